// Command samplegen writes a synthetic dataset for shufflestore nodes.
//
// Records have seeded random sizes and contents, so a run can be repeated
// and checked. The files command writes one file per record plus a
// manifest; the badger command packs the records into a badger database,
// either generated or copied from an existing file dataset.
//
// Example:
//
//	samplegen files --dir /data/train --samples 1000 --sources 2
//	samplegen badger --badger /data/train.db --from-dir /data/train
//
// Both read the dataset section of the node configuration, so one file
// can drive generation and training.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dreamware/shufflestore/internal/config"
	"github.com/dreamware/shufflestore/internal/logging"
)

var logger = logrus.WithField("module", "samplegen")

func appExit(err error) {
	logrus.WithError(err).Error("app exit")
	os.Exit(1)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		appExit(err)
	}
}

// genOptions are the generator settings not covered by the config file.
type genOptions struct {
	minSize int
	maxSize int
	fromDir string
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		opts       genOptions
	)
	v := config.New()

	root := &cobra.Command{
		Use:           "samplegen",
		Short:         "generate synthetic shufflestore datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "conf", "c", "", "path of the configuration file")
	pf.Int("samples", 0, "number of samples")
	pf.Int("sources", 1, "records per sample")
	pf.Int64("seed", 1, "generator seed")
	pf.IntVar(&opts.minSize, "min-size", 64, "smallest record in bytes")
	pf.IntVar(&opts.maxSize, "max-size", 4096, "largest record in bytes")
	pf.String("log-level", "info", "log level")
	if err := config.BindFlags(v, pf, map[string]string{
		"samples":   "dataset.samples",
		"sources":   "dataset.sources",
		"seed":      "training.seed",
		"log-level": "log.level",
	}); err != nil {
		panic(err)
	}

	// Subcommands share config keys, so each binds its own flags when it
	// runs rather than at construction.
	load := func(fs *pflag.FlagSet, keys map[string]string) (*config.Config, error) {
		if err := config.BindFlags(v, fs, keys); err != nil {
			return nil, err
		}
		conf, err := config.Load(v, configPath)
		if err != nil {
			return nil, err
		}
		if err := logging.Init(conf.Log, "samplegen.log"); err != nil {
			return nil, err
		}
		return conf, nil
	}

	root.AddCommand(newFilesCmd(load, &opts), newBadgerCmd(load, &opts))
	return root
}

type loadFunc func(fs *pflag.FlagSet, keys map[string]string) (*config.Config, error)

func newFilesCmd(load loadFunc, opts *genOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "write one file per record plus a manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := load(cmd.Flags(), map[string]string{
				"dir":      "dataset.dir",
				"pattern":  "dataset.pattern",
				"manifest": "dataset.manifest",
			})
			if err != nil {
				return err
			}
			gen, err := newGenerator(conf.Dataset.Samples, conf.Dataset.Sources, conf.Training.Seed, opts.minSize, opts.maxSize)
			if err != nil {
				return err
			}
			return writeFiles(gen, conf.Dataset.Dir, conf.Dataset.Pattern, conf.Dataset.Manifest)
		},
	}
	fs := cmd.Flags()
	fs.String("dir", "", "output directory")
	fs.String("pattern", "%d_%d.bin", "file name pattern taking sample and source")
	fs.String("manifest", "manifest.txt", "manifest file name, relative to dir; empty to skip")
	return cmd
}

func newBadgerCmd(load loadFunc, opts *genOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "badger",
		Short: "pack records into a badger database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := load(cmd.Flags(), map[string]string{
				"badger":  "dataset.badger",
				"pattern": "dataset.pattern",
			})
			if err != nil {
				return err
			}
			gen, err := newGenerator(conf.Dataset.Samples, conf.Dataset.Sources, conf.Training.Seed, opts.minSize, opts.maxSize)
			if err != nil {
				return err
			}
			read := gen.Record
			if opts.fromDir != "" {
				if read, err = fileReader(opts.fromDir, conf.Dataset.Pattern); err != nil {
					return err
				}
			}
			return ingest(gen, conf.Dataset.Badger, read)
		},
	}
	fs := cmd.Flags()
	fs.String("badger", "", "database directory")
	fs.String("pattern", "%d_%d.bin", "file name pattern of --from-dir records")
	fs.StringVar(&opts.fromDir, "from-dir", "", "copy records from this file dataset instead of generating them")
	return cmd
}
