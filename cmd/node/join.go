package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dreamware/shufflestore/internal/cluster"
)

// errRunFailed is returned when the coordinator reports a lost rank before
// the group is ready.
var errRunFailed = errors.New("run failed before start")

// register obtains this node's rank from the coordinator, retrying up to
// retries times interval apart. A node cannot take part in the run without
// a rank, so the last error is returned once retries run out.
func register(ctx context.Context, coord string, node cluster.NodeInfo, retries int, interval time.Duration) (cluster.RegisterResponse, error) {
	body := cluster.RegisterRequest{Node: node}
	url := strings.TrimRight(coord, "/") + "/register"
	if retries <= 0 {
		retries = 1
	}

	var (
		resp    cluster.RegisterResponse
		lastErr error
	)
	for i := 0; i < retries; i++ {
		lastErr = cluster.PostJSON(ctx, url, body, &resp)
		if lastErr == nil {
			logger.WithFields(logrus.Fields{
				"coordinator": coord,
				"rank":        resp.Member.Rank,
				"run_id":      resp.RunID,
			}).Info("registered with coordinator")
			return resp, nil
		}
		logger.WithError(lastErr).Warnf("register retry %d", i+1)
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return cluster.RegisterResponse{}, ctx.Err()
		}
	}
	return cluster.RegisterResponse{}, fmt.Errorf("failed to register with coordinator: %w", lastErr)
}

// waitForGroup polls the coordinator until every rank has registered. It
// fails if the run changes under it, a rank is reported lost, or timeout
// passes.
func waitForGroup(ctx context.Context, coord, runID string, interval, timeout time.Duration) (cluster.GroupView, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	url := strings.TrimRight(coord, "/") + "/group"

	for {
		var view cluster.GroupView
		err := cluster.GetJSON(ctx, url, &view)
		switch {
		case err != nil:
			logger.WithError(err).Debug("group poll failed")
		case view.RunID != runID:
			return cluster.GroupView{}, fmt.Errorf("coordinator run changed from %s to %s", runID, view.RunID)
		case len(view.Failed) > 0:
			return cluster.GroupView{}, fmt.Errorf("%w: ranks %v lost", errRunFailed, view.Failed)
		case view.Ready:
			return view, nil
		default:
			logger.WithFields(logrus.Fields{
				"registered": len(view.Members),
				"world":      view.WorldSize,
			}).Debug("waiting for group")
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return cluster.GroupView{}, fmt.Errorf("waiting for group: %w", ctx.Err())
		}
	}
}
