package cli

import (
	"fmt"

	"github.com/kubev2v/texbatch/internal/archive"
	"github.com/kubev2v/texbatch/internal/batch"
	"github.com/kubev2v/texbatch/internal/client"
	"github.com/kubev2v/texbatch/internal/config"
	"github.com/kubev2v/texbatch/internal/events"
	"github.com/kubev2v/texbatch/internal/pipeline"
	"github.com/kubev2v/texbatch/internal/store"
	"github.com/kubev2v/texbatch/pkg/log"
	"github.com/kubev2v/texbatch/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type GlobalOptions struct {
	LogLevel    string
	MetricsFile string

	config *config.Config
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level (debug, info, warn, error). Overrides TEXBATCH_LOG_LEVEL.")
	fs.StringVar(&o.MetricsFile, "metrics-file", o.MetricsFile, "Write pipeline metrics in text format to this file. Overrides TEXBATCH_METRICS_FILE.")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Service.LogLevel = o.LogLevel
	}
	if o.MetricsFile != "" {
		cfg.Service.MetricsFile = o.MetricsFile
	}
	o.config = cfg
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	return o.config.Validate()
}

// validateRemote is Validate for commands that talk to the batch service:
// a missing credential fails before the ledger or the network is touched.
func (o *GlobalOptions) validateRemote(args []string) error {
	if err := o.Validate(args); err != nil {
		return err
	}
	return o.config.CheckCredential()
}

// initLogger replaces the global zap logger. The returned func restores it.
func (o *GlobalOptions) initLogger() func() {
	logger := log.InitLog(log.ParseLevel(o.config.Service.LogLevel))
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}
}

func (o *GlobalOptions) openStore() (store.Store, error) {
	db, err := store.InitDB(o.config)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}
	s := store.NewStore(db)
	if err := s.InitialMigration(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("running initial migration: %w", err)
	}
	return s, nil
}

func (o *GlobalOptions) batchClient() (*client.BatchClient, error) {
	if err := o.config.CheckCredential(); err != nil {
		return nil, err
	}
	return client.NewBatchClient(&client.Config{
		Server:  o.config.Service.BaseURL,
		APIKey:  o.config.Service.APIKey,
		Timeout: o.config.Service.HTTPTimeout,
	})
}

// pipeline wires a Pipeline over s. The returned func releases the poll
// ticker and flushes pending events.
func (o *GlobalOptions) pipeline(s store.Store) (*pipeline.Pipeline, func(), error) {
	c, err := o.batchClient()
	if err != nil {
		return nil, nil, err
	}
	archiver, err := archive.New(o.config)
	if err != nil {
		return nil, nil, err
	}

	deps := pipeline.Deps{
		Client:  c,
		Store:   s,
		Archive: archiver,
	}

	var producer *events.EventProducer
	if sink := o.config.Service.EventsSink; sink != "" {
		w, err := events.NewWriter(sink)
		if err != nil {
			return nil, nil, err
		}
		producer = events.NewEventProducer(w)
		deps.Events = producer
	}

	waiter := batch.NewTickerWaiter(o.config.Service.PollInterval, o.config.Service.PollJitter)
	deps.Waiter = waiter

	stop := func() {
		waiter.Stop()
		if producer != nil {
			_ = producer.Close()
		}
	}
	return pipeline.New(o.config, deps), stop, nil
}

func (o *GlobalOptions) writeMetrics() {
	if o.config.Service.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(o.config.Service.MetricsFile); err != nil {
		zap.S().Warnw("failed to write metrics", "file", o.config.Service.MetricsFile, "error", err)
	}
}
