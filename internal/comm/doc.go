// Package comm implements the process-group primitive the sample store runs
// on: non-blocking point-to-point sends and receives between ranks, request
// handles to wait on them, and blocking collectives built on top.
//
// # Message matching
//
// Every message travels in an Envelope of (source rank, tag, sequence). The
// sender numbers its sends per (destination, tag) when they are posted; the
// receiver numbers its receives per (source, tag) the same way. Two ranks
// that post the same sequence of operations for a pair therefore pair them
// up exactly, even when an HTTP transport delivers them out of order:
//
//	rank 0 posts:  Isend(1, record) #0   Isend(1, record) #1
//	rank 1 posts:  Irecv(0, record) #0   Irecv(0, record) #1
//	wire order:    #1 arrives, parked    #0 arrives, matched
//
// Messages that arrive before their receive is posted wait in the rank's
// Mailbox. A receive whose message has a different length than its buffer
// fails with ErrSizeMismatch.
//
// # Transports
//
//   - LocalWorld: ranks in one process, delivering into each other's
//     mailboxes. Used by tests and single-host runs.
//   - HTTPGroup: one rank per node process. A send is a POST to the peer's
//     InboxHandler. Outbound posts are bounded by a semaphore.
//
// # Failure
//
// There are no retries. A failed post completes its request with
// ErrPeerLost; Mailbox.Abort fails every pending and future receive on the
// rank, which is how a coordinator-declared peer loss reaches a rank blocked
// in a drain.
//
// # Collectives
//
// GatherInt64, Broadcast, AllGatherv and Barrier are synchronous: every rank
// calls them in the same order and blocks until its part completes. They are
// used for one-time negotiation and the small per-epoch assignment broadcast.
package comm
