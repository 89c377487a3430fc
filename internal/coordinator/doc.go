// Package coordinator implements the rendezvous and failure-detection side
// of a shufflestore run: it hands out ranks, tells nodes when the group is
// complete, and watches them for the rest of the run.
//
// # Overview
//
// The coordinator is not on the data path. Records move directly between
// nodes over their /p2p/ inboxes; the coordinator only decides who is rank
// what and raises the alarm when a rank disappears.
//
//	┌───────────────────────────────────────┐
//	│             COORDINATOR               │
//	├───────────────────────────────────────┤
//	│  RankRegistry                         │
//	│    node ID -> rank, run ID, failed    │
//	│                                       │
//	│  HealthMonitor                        │
//	│    GET {addr}/health every interval   │
//	│    3 misses -> onUnhealthy(member)    │
//	└───────────────────────────────────────┘
//	      ▲ POST /register        │ POST /control {"type":"abort"}
//	      │ GET  /group           ▼
//	┌──────────┐  ┌──────────┐  ┌──────────┐
//	│  rank 0  │◄─┤  rank 1  ├─►│  rank 2  │   /p2p/ traffic
//	└──────────┘  └──────────┘  └──────────┘
//
// # Rendezvous
//
//  1. Each node POSTs /register with its ID and address and receives its
//     rank and the run ID.
//  2. Nodes poll GET /group until Ready; the view lists every member by
//     rank, which is all a node needs to build its transport.
//  3. The coordinator starts health monitoring once the group is complete.
//
// # Failure
//
// The store has no way to continue with a missing rank: every epoch needs
// every owner's records. When HealthMonitor declares a member unhealthy the
// coordinator marks its rank failed in the registry and sends an abort
// control message to every other member. Nodes abort their mailbox, which
// fails any drain in progress with comm.ErrPeerLost, and exit.
//
// # Concurrency
//
// RankRegistry and HealthMonitor are safe for concurrent use. The
// unhealthy callback runs on its own goroutine and must not block the
// monitor.
package coordinator
