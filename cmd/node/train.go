package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/cluster"
	"github.com/dreamware/shufflestore/internal/comm"
	"github.com/dreamware/shufflestore/internal/config"
	"github.com/dreamware/shufflestore/internal/datastore"
	"github.com/dreamware/shufflestore/internal/epoch"
	"github.com/dreamware/shufflestore/internal/source"
)

func run(ctx context.Context, conf *config.Config) error {
	ln, err := net.Listen("tcp", conf.Node.Listen)
	if err != nil {
		return err
	}
	return serve(ctx, conf, ln)
}

// serve runs the node's HTTP server on ln for as long as the training run
// lasts. A server failure cancels the run.
func serve(ctx context.Context, conf *config.Config, ln net.Listener) error {
	node := NewNode(conf.Node.ID)
	httpSrv := &http.Server{
		Handler:           node.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		logger.WithFields(logrus.Fields{
			"node": conf.Node.ID,
			"addr": ln.Addr().String(),
		}).Info("node listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel(fmt.Errorf("http server: %w", err))
		}
	}()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = httpSrv.Shutdown(shutdownCtx)
		logger.WithField("node", conf.Node.ID).Info("node stopped")
	}()

	if err := node.run(ctx, conf); err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return err
	}
	return nil
}

// run joins the group, creates the store and drives the epoch loop.
func (n *Node) run(ctx context.Context, conf *config.Config) error {
	reg, err := register(ctx, conf.Node.CoordinatorAddr,
		cluster.NodeInfo{ID: n.ID, Addr: conf.Node.Addr},
		conf.Node.RegisterRetries, conf.Node.RegisterInterval)
	if err != nil {
		return err
	}
	n.setMember(reg.RunID, reg.Member)

	view, err := waitForGroup(ctx, conf.Node.CoordinatorAddr, reg.RunID,
		conf.Node.RegisterInterval, conf.Node.JoinTimeout)
	if err != nil {
		return err
	}
	g, err := comm.NewHTTPGroup(reg.Member.Rank, view.Members, n.mailbox,
		comm.WithMaxInflight(conf.Node.MaxInflight))
	if err != nil {
		return err
	}

	src, err := openSource(conf.Dataset)
	if err != nil {
		return err
	}
	defer src.Close()

	st, err := newStore(g, src, conf)
	if err != nil {
		return err
	}
	n.store.Store(st)
	return train(ctx, g, st, conf.Training, conf.Dataset.Sources)
}

// openSource opens the record source the dataset config selects: a badger
// database, a manifest of file names, or files named by a pattern.
func openSource(conf config.DatasetConf) (source.Source, error) {
	switch {
	case conf.Badger != "":
		return source.OpenBadger(conf.Badger)
	case conf.Manifest != "":
		m, err := source.LoadManifest(conf.Manifest, conf.Dir, conf.Samples, conf.Sources)
		if err != nil {
			return nil, err
		}
		return source.NewFileSource(m), nil
	case conf.Dir != "":
		if conf.Pattern == "" {
			return nil, errors.New("dataset.pattern is required with dataset.dir")
		}
		return source.NewFileSource(source.PatternResolver{Dir: conf.Dir, Pattern: conf.Pattern}), nil
	}
	return nil, errors.New("no dataset source configured")
}

func newStore(g comm.Group, src source.Source, conf *config.Config) (*datastore.Store, error) {
	batcher := epoch.RoundRobin{BatchSize: conf.Training.BatchSize, World: g.Size()}
	if err := batcher.Validate(); err != nil {
		return nil, err
	}
	return datastore.New(g, datastore.Options{
		NumSamples:       conf.Dataset.Samples,
		SourcesPerSample: conf.Dataset.Sources,
		Source:           src,
		Shuffler:         epoch.Shuffler{N: conf.Dataset.Samples, Seed: conf.Training.Seed},
		Batcher:          batcher,
		Root:             conf.Training.Root,
	})
}

// epochResult totals what one rank consumed in an epoch.
type epochResult struct {
	Batches int
	Records int
	Bytes   int64
}

// train loads the store and runs conf.Epochs epochs. It ends with a
// barrier so no rank exits, and trips the coordinator's health check,
// while a peer is still draining its last exchange.
func train(ctx context.Context, g comm.Group, st *datastore.Store, conf config.TrainingConf, sources int) error {
	log := logger.WithField("rank", g.Rank())

	start := time.Now()
	if err := st.Setup(ctx); err != nil {
		return err
	}
	info := st.Info()
	log.WithFields(logrus.Fields{
		"owned_records": info.OwnedRecords,
		"buffer_bytes":  info.BufferBytes,
		"dataset_bytes": info.DatasetBytes,
		"elapsed":       time.Since(start),
	}).Info("store loaded")

	for e := 0; e < conf.Epochs; e++ {
		start := time.Now()
		if err := st.Exchange(ctx, e); err != nil {
			return err
		}
		exchanged := time.Since(start)

		res, err := consume(st, conf.BatchSize, sources)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", e, err)
		}
		log.WithFields(logrus.Fields{
			"epoch":    e,
			"batches":  res.Batches,
			"records":  res.Records,
			"bytes":    res.Bytes,
			"exchange": exchanged,
			"elapsed":  time.Since(start),
		}).Info("epoch done")

		if conf.Verify {
			if err := st.Verify(ctx); err != nil {
				return fmt.Errorf("epoch %d: %w", e, err)
			}
		}
	}

	if err := comm.Barrier(ctx, g); err != nil {
		return err
	}
	stats := st.Stats()
	log.WithFields(logrus.Fields{
		"gets":       stats.Gets,
		"misses":     stats.Misses,
		"sent_bytes": stats.BytesSent,
		"recv_bytes": stats.BytesRecv,
	}).Info("training done")
	return nil
}

// consume reads every record of this rank's mini-batches for the current
// epoch, the way a training step would.
func consume(st *datastore.Store, batchSize, sources int) (epochResult, error) {
	var res epochResult
	cur := st.Current()
	if cur == nil {
		return res, datastore.ErrNotSetup
	}
	for _, batch := range epoch.Batches(cur.Positions, batchSize) {
		for _, pos := range batch {
			sample := cur.Order[pos]
			for s := 0; s < sources; s++ {
				data, err := st.Get(sample, s)
				if err != nil {
					return res, err
				}
				res.Records++
				res.Bytes += int64(len(data))
			}
		}
		res.Batches++
	}
	return res, nil
}
