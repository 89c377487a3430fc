package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/comm"
	"github.com/dreamware/shufflestore/internal/negotiate"
	"github.com/dreamware/shufflestore/internal/record"
	"github.com/dreamware/shufflestore/internal/storage"
)

var logger = logrus.WithField("module", "exchange")

// ErrExchange is returned when any send or receive of an epoch fails.
var ErrExchange = errors.New("exchange failed")

// Engine runs exchanges for one rank against its loaded local buffer.
type Engine struct {
	group   comm.Group
	sizes   *negotiate.SizeTable
	offsets *negotiate.OffsetTable
	buffer  *storage.Buffer
}

// Result is the outcome of one successful exchange.
type Result struct {
	Records map[record.Key][]byte

	SentRecords, RecvRecords, LocalRecords int64
	SentBytes, RecvBytes, LocalBytes       int64
	Elapsed                                time.Duration
}

// NewEngine creates an engine. offsets must describe buffer.
func NewEngine(g comm.Group, sizes *negotiate.SizeTable, offsets *negotiate.OffsetTable, buffer *storage.Buffer) *Engine {
	return &Engine{group: g, sizes: sizes, offsets: offsets, buffer: buffer}
}

// Run executes plan: it posts every send and receive, copies local records,
// and waits for all transfers. The returned records are complete for the
// plan's need-set; on error nothing is returned and the caller must treat
// the epoch as failed.
func (e *Engine) Run(ctx context.Context, epoch int, plan *Plan) (*Result, error) {
	start := time.Now()
	rank := e.group.Rank()
	log := logger.WithFields(logrus.Fields{"rank": rank, "epoch": epoch})

	res := &Result{Records: make(map[record.Key][]byte)}

	// Resolve everything before posting, so a bad plan fails without
	// leaving half an epoch on the wire.
	sends := make([][][]byte, len(plan.Sends))
	for dest, keys := range plan.Sends {
		for _, k := range keys {
			data, err := e.record(k)
			if err != nil {
				return nil, fmt.Errorf("%w: rank %d: send to rank %d: %v", ErrExchange, rank, dest, err)
			}
			sends[dest] = append(sends[dest], data)
			res.SentRecords++
			res.SentBytes += int64(len(data))
		}
	}
	recvSizes := make([][]int64, len(plan.Recvs))
	for src, keys := range plan.Recvs {
		for _, k := range keys {
			size, ok := e.sizes.Size(k)
			if !ok {
				return nil, fmt.Errorf("%w: rank %d: no size for %s from rank %d", ErrExchange, rank, k, src)
			}
			recvSizes[src] = append(recvSizes[src], size)
			res.RecvRecords++
			res.RecvBytes += size
		}
	}
	for _, k := range plan.Local {
		data, err := e.record(k)
		if err != nil {
			return nil, fmt.Errorf("%w: rank %d: %v", ErrExchange, rank, err)
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		res.Records[k] = cp
		res.LocalRecords++
		res.LocalBytes += int64(len(cp))
	}

	var reqs []*comm.Request

	// Receives first, so early messages find a waiting buffer.
	for src, keys := range plan.Recvs {
		if len(keys) == 0 {
			continue
		}
		var total int64
		for _, size := range recvSizes[src] {
			total += size
		}
		block := make([]byte, total)
		var off int64
		for i, k := range keys {
			size := recvSizes[src][i]
			dst := block[off : off+size : off+size]
			off += size
			res.Records[k] = dst
			reqs = append(reqs, e.group.Irecv(ctx, src, comm.TagRecord, dst))
		}
	}

	for dest, records := range sends {
		for _, data := range records {
			reqs = append(reqs, e.group.Isend(ctx, dest, comm.TagRecord, data))
		}
	}

	log.WithField("requests", len(reqs)).Debug("draining")
	if err := comm.WaitAll(ctx, reqs); err != nil {
		log.WithError(err).Error("drain failed")
		return nil, fmt.Errorf("%w: rank %d epoch %d: %w", ErrExchange, rank, epoch, err)
	}

	res.Elapsed = time.Since(start)
	log.WithFields(logrus.Fields{
		"sent_bytes":  res.SentBytes,
		"recv_bytes":  res.RecvBytes,
		"local_bytes": res.LocalBytes,
		"elapsed":     res.Elapsed,
	}).Info("exchange complete")
	return res, nil
}

// record returns the owned record's bytes in the local buffer.
func (e *Engine) record(k record.Key) ([]byte, error) {
	span, ok := e.offsets.Lookup(k)
	if !ok {
		return nil, fmt.Errorf("record %s is not owned locally", k)
	}
	return e.buffer.Slice(span.Offset, span.Size)
}
