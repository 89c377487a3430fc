// Package partition decides which rank owns each sample of the dataset.
//
// # Overview
//
// The store shards raw sample blobs across a group of ranks. Each sample has
// exactly one owner: the rank that loads its bytes from backing storage during
// setup and serves them to any rank that needs them in a later epoch.
//
// Ownership uses a modulo distribution over the world size:
//
//	sample:  0  1  2  3  4  5  6
//	owner:   0  1  0  1  0  1  0     (world = 2)
//
// A plain modulo keeps owned counts within one of each other across ranks,
// and lets every rank enumerate its own samples in ascending order without
// building a table.
//
// # Invariants
//
//   - Totality: every sample in [0, N) is owned by exactly one rank
//   - Stability: owner(i) depends only on i and the world size
//   - Order: Owned and OwnedKeys return ascending sequences, which the
//     negotiator relies on when it packs the local buffer
package partition
