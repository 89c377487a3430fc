// Package cluster holds the wire types and HTTP helpers shared by the
// coordinator and node processes.
//
// # Overview
//
// A run consists of one coordinator and world-size node processes. The
// coordinator is only a rendezvous point: it hands out ranks, tells nodes
// when the group is complete, and signals an abort if a rank stops answering
// health checks. Sample bytes never pass through it.
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │ - ranks      │
//	              │ - health     │
//	              └──────┬───────┘
//	    register / group │ abort
//	      ┌──────────────┼──────────────┐
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│  rank 0   │◄─►  rank 1   │◄─►  rank 2   │
//	└───────────┘  └───────────┘  └───────────┘
//	        point-to-point POST /p2p/{src}/{tag}/{seq}
//
// # Protocol
//
// Registration (POST /register):
//   - Body: RegisterRequest with the node's ID and public address
//   - Response: RegisterResponse with the assigned Member and the run ID
//   - Re-registering the same ID keeps its rank and updates the address
//
// Group view (GET /group):
//   - Nodes poll until Ready is true, then build their transport from Members
//   - Failed lists ranks that were declared lost
//
// Control (POST /control on each node):
//   - ControlMessage with Type "abort" fails every pending receive on the node
//
// # Helpers
//
// PostJSON and GetJSON carry control-plane messages with a short client
// timeout. PostBytes carries data-plane payloads and takes its own client so
// transports can choose a timeout suited to large records.
package cluster
