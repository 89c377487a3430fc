// Command node runs one rank of a shufflestore group.
//
// A node serves its HTTP endpoints, registers with the coordinator to learn
// its rank, waits for the full group, then loads its share of the dataset
// and runs the training epoch loop: exchange, then read every record of its
// mini-batches through the store.
//
//	┌─────────────────────────────────────────┐
//	│                 Node                    │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health          liveness            │
//	│    /control         coordinator abort   │
//	│    /p2p/            peer record inbox   │
//	│    /info            layout and stats    │
//	│    /record/{s}/{k}  current epoch Get   │
//	└─────────────────────────────────────────┘
//
// Example:
//
//	node --id n0 --listen :8081 --addr http://10.0.0.5:8081 \
//	  --coordinator http://10.0.0.1:8080 \
//	  --samples 60000 --sources 2 --manifest /data/train.txt \
//	  --epochs 10 --batch-size 64
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreamware/shufflestore/internal/config"
	"github.com/dreamware/shufflestore/internal/logging"
)

var logger = logrus.WithField("module", "node")

func appExit(err error) {
	logrus.WithError(err).Error("app exit")
	os.Exit(1)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		appExit(err)
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"id":                "node.id",
	"listen":            "node.listen",
	"addr":              "node.addr",
	"coordinator":       "node.coordinator_addr",
	"max-inflight":      "node.max_inflight",
	"register-retries":  "node.register_retries",
	"register-interval": "node.register_interval",
	"join-timeout":      "node.join_timeout",
	"samples":           "dataset.samples",
	"sources":           "dataset.sources",
	"dir":               "dataset.dir",
	"pattern":           "dataset.pattern",
	"manifest":          "dataset.manifest",
	"badger":            "dataset.badger",
	"epochs":            "training.epochs",
	"batch-size":        "training.batch_size",
	"seed":              "training.seed",
	"root":              "training.root",
	"verify":            "training.verify",
	"log-level":         "log.level",
	"log-path":          "log.path",
}

func newRootCmd() *cobra.Command {
	var configPath string
	v := config.New()

	cmd := &cobra.Command{
		Use:           "node",
		Short:         "run one rank of a shufflestore group",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			if err := conf.ValidateNode(); err != nil {
				return err
			}
			if err := logging.Init(conf.Log, "node-"+conf.Node.ID+".log"); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, conf)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&configPath, "conf", "c", "", "path of the configuration file")
	fs.String("id", "", "unique node identifier")
	fs.String("listen", ":8081", "address to listen on")
	fs.String("addr", "http://127.0.0.1:8081", "public address peers and the coordinator reach this node at")
	fs.String("coordinator", "http://127.0.0.1:8080", "coordinator base URL")
	fs.Int("max-inflight", 64, "concurrent outbound record posts")
	fs.Int("register-retries", 10, "registration attempts before giving up")
	fs.Duration("register-interval", 400*time.Millisecond, "delay between registration attempts and group polls")
	fs.Duration("join-timeout", 2*time.Minute, "how long to wait for the full group")
	fs.Int("samples", 0, "number of samples in the dataset")
	fs.Int("sources", 1, "records per sample")
	fs.String("dir", "", "dataset directory for pattern-named files")
	fs.String("pattern", "%d_%d.bin", "file name pattern taking sample and source")
	fs.String("manifest", "", "manifest listing each sample's files")
	fs.String("badger", "", "badger database holding the records")
	fs.Int("epochs", 1, "epochs to run")
	fs.Int("batch-size", 32, "mini-batch size")
	fs.Int64("seed", 1, "shuffle seed shared by all ranks")
	fs.Int("root", 0, "rank that computes and broadcasts mini-batch assignments")
	fs.Bool("verify", false, "re-read and compare owned records after each epoch")
	fs.String("log-level", "info", "log level")
	fs.String("log-path", "", "directory for rotated log files; stderr if empty")

	if err := config.BindFlags(v, fs, flagKeys); err != nil {
		panic(err)
	}
	return cmd
}
