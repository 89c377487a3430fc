// Package storage holds a rank's in-memory record data: the packed local
// buffer of owned records and the per-epoch cache of records received from
// peers.
//
// # Overview
//
// Each rank keeps two stores with very different lifetimes:
//
//	┌─────────────────────────────────────┐
//	│             Buffer                  │  allocated once at setup,
//	│  [rec 1/0][rec 1/1][rec 3/0]...     │  filled from backing storage,
//	└─────────────────────────────────────┘  read by every exchange
//	                 │ local copies + peer sends
//	                 ▼
//	┌─────────────────────────────────────┐
//	│              Cache                  │  replaced wholesale after each
//	│   key -> []byte for this epoch      │  successful exchange, read by Get
//	└─────────────────────────────────────┘
//
// # Buffer
//
// Allocate reserves exactly the negotiated total in one allocation. Records
// sit at the offsets produced by size negotiation, in ascending key order,
// with no gaps. Slice hands out aliases used both for loading and as the
// source of outbound sends. Checksum lets a rerun setup prove it produced
// identical contents.
//
// # Cache
//
// The Cache is swapped, never patched: the exchange engine assembles a
// complete map off to the side and Replace installs it under the write lock.
// Get takes the read lock and returns a reference into the map's bytes, so
// the result is only valid until the next Replace.
//
// Before the first publish, and after Reset, every Get returns
// ErrKeyNotFound.
//
// # Concurrency
//
//   - Cache: sync.RWMutex; many concurrent Gets, Replace excludes them.
//   - Buffer: no locking. It is written only during setup and read only
//     during exchanges, which the store serializes.
//   - Stats: atomic counters, readable at any time.
package storage
