// Package exchange moves records between ranks once per epoch so each rank
// ends up holding exactly the records its mini-batches need.
//
// # Cycle
//
//	Assignment (broadcast by root)
//	      │
//	      ▼
//	BuildPlan ──► Recvs[owner]  keys I need from each owner
//	          ──► Sends[peer]   my keys each peer needs
//	          ──► Local         my keys I need myself
//	      │
//	      ▼
//	Engine.Run
//	   issue:   Isend per record, ascending peer then ascending key
//	            Irecv per record into a buffer sized from the size table
//	   local:   copy owned records straight from the local buffer
//	   drain:   comm.WaitAll; any failure fails the epoch
//	      │
//	      ▼
//	Result.Records  (caller publishes it into its cache)
//
// # Ordering
//
// No manifest is exchanged. Sender and receiver of a pair derive the same
// key list independently, from the globally known order and assignment, and
// both walk it in ascending key order. The transport pairs the Nth send
// with the Nth receive, so record k on one side lands in the buffer for
// record k on the other.
//
// Every rank must hold the same order and assignment for an epoch; the
// assignment is broadcast from the root at epoch start (see Assignment.Encode)
// so there is no hidden shared state.
package exchange
