// Package datastore is the distributed in-memory sample store a training
// process talks to. One Store runs per rank; together the ranks hold every
// record of the dataset exactly once and reshuffle them every epoch.
//
// # Lifecycle
//
//	New ──► Setup ──► Exchange(0) ──► Get... ──► Exchange(1) ──► Get... ──►
//
// Setup runs once (and may be rerun with identical results):
//
//  1. partition: sample i belongs to rank i mod world
//  2. measure:   stat every owned record
//  3. negotiate: gather/all-gather sizes into a global size table
//  4. offsets:   pack owned records in ascending key order
//  5. allocate:  one buffer of the packed total
//  6. load:      read every owned record into its slot
//
// Exchange runs at each epoch boundary. The root rank computes the epoch's
// mini-batch assignment and broadcasts it with a checksum of its shuffled
// order. Every rank compares the checksum with its own order and all ranks
// fail the epoch if any disagrees; otherwise every rank plans, posts its
// sends and receives, drains them, and publishes the received records by
// replacing its cache.
//
// Get reads the current epoch's cache. A record outside this rank's
// need-set, or any record before the first exchange, is reported as
// storage.ErrKeyNotFound.
//
// # Failure
//
// Setup and Exchange failures are fatal for the run: the group is left in
// an undefined state (in-flight messages, advanced sequence numbers) and no
// retry is attempted. Setup failures on one rank are reported to all ranks
// so the group fails together. Setup discards the previous layout and cache
// before it starts, so after a failed Setup, Exchange and Verify return
// ErrNotSetup until a later Setup succeeds.
//
// # Concurrency
//
// Setup and Exchange are collectives: every rank calls them in the same
// order and with the same root. Within a rank, Exchange does not wait: it
// returns ErrSetupInProgress while Setup runs and ErrExchangeInProgress
// while another Exchange runs. Get, Peek, Stats and Info are safe to call at
// any time from any goroutine.
package datastore
