package storage

import "sync/atomic"

// Stats tracks operation counts for a store.
// Counters are updated atomically and may be read while exchanges run.
type Stats struct {
	gets          uint64
	misses        uint64
	exchanges     uint64
	recordsSent   uint64
	recordsRecv   uint64
	recordsLocal  uint64
	bytesSent     uint64
	bytesRecv     uint64
	bytesLocal    uint64
	bytesLoaded   uint64
	recordsLoaded uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Gets          uint64 `json:"gets"`
	Misses        uint64 `json:"misses"`
	Exchanges     uint64 `json:"exchanges"`
	RecordsSent   uint64 `json:"records_sent"`
	RecordsRecv   uint64 `json:"records_recv"`
	RecordsLocal  uint64 `json:"records_local"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesRecv     uint64 `json:"bytes_recv"`
	BytesLocal    uint64 `json:"bytes_local"`
	RecordsLoaded uint64 `json:"records_loaded"`
	BytesLoaded   uint64 `json:"bytes_loaded"`
}

// RecordGet counts one Get, and one miss if hit is false.
func (s *Stats) RecordGet(hit bool) {
	atomic.AddUint64(&s.gets, 1)
	if !hit {
		atomic.AddUint64(&s.misses, 1)
	}
}

// RecordLoad counts one record read from backing storage.
func (s *Stats) RecordLoad(bytes int64) {
	atomic.AddUint64(&s.recordsLoaded, 1)
	atomic.AddUint64(&s.bytesLoaded, uint64(bytes))
}

// RecordExchange adds the totals of one completed exchange.
func (s *Stats) RecordExchange(sent, recv, local, sentBytes, recvBytes, localBytes int64) {
	atomic.AddUint64(&s.exchanges, 1)
	atomic.AddUint64(&s.recordsSent, uint64(sent))
	atomic.AddUint64(&s.recordsRecv, uint64(recv))
	atomic.AddUint64(&s.recordsLocal, uint64(local))
	atomic.AddUint64(&s.bytesSent, uint64(sentBytes))
	atomic.AddUint64(&s.bytesRecv, uint64(recvBytes))
	atomic.AddUint64(&s.bytesLocal, uint64(localBytes))
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Gets:          atomic.LoadUint64(&s.gets),
		Misses:        atomic.LoadUint64(&s.misses),
		Exchanges:     atomic.LoadUint64(&s.exchanges),
		RecordsSent:   atomic.LoadUint64(&s.recordsSent),
		RecordsRecv:   atomic.LoadUint64(&s.recordsRecv),
		RecordsLocal:  atomic.LoadUint64(&s.recordsLocal),
		BytesSent:     atomic.LoadUint64(&s.bytesSent),
		BytesRecv:     atomic.LoadUint64(&s.bytesRecv),
		BytesLocal:    atomic.LoadUint64(&s.bytesLocal),
		RecordsLoaded: atomic.LoadUint64(&s.recordsLoaded),
		BytesLoaded:   atomic.LoadUint64(&s.bytesLoaded),
	}
}
