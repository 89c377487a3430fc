// Package source reads raw record blobs from backing storage during the
// initial load.
//
// Two pieces cooperate:
//
//	Resolver:  record.Key -> (directory, file name)
//	Source:    record.Key -> size, bytes
//
// FileSource stats and reads the files a Resolver names. PatternResolver
// derives names from a format string; ManifestResolver reads them from a
// list file with one line per sample and one name per source slot.
//
// BadgerSource keeps every record in a single badger database under
// "sample/<sample>/<source>", which replaces millions of small files with one
// packed store. Ingest fills it, usually from samplegen.
//
// A Source is only consulted during setup: Size during size negotiation,
// ReadInto while loading the local buffer. Neither is called per epoch.
package source
