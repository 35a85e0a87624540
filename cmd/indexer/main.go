package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/dipdup-io/evm-indexer/internal/aggregator"
	"github.com/dipdup-io/evm-indexer/internal/node"
	"github.com/dipdup-io/evm-indexer/internal/pipeline"
	"github.com/dipdup-io/evm-indexer/internal/registry"
	"github.com/dipdup-io/evm-indexer/internal/storage"
	"github.com/dipdup-io/evm-indexer/internal/storage/postgres"
	"github.com/dipdup-net/go-lib/hasura"
	"github.com/dipdup-net/indexer-sdk/pkg/modules"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "indexer",
		Short: "DipDup EVM indexer",
	}
	configPath *string
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
	}).Level(zerolog.InfoLevel)

	configPath = rootCmd.PersistentFlags().StringP("config", "c", "dipdup.yml", "path to YAML config file")
	rootCmd.RunE = runCmd.RunE
	rootCmd.AddCommand(runCmd, statsCmd, identifierCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Panic().Err(err).Msg("command line execute")
		return
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run indexer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(*configPath)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func setup(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if cfg.Indexer.MaxCPU > 0 {
		runtime.GOMAXPROCS(cfg.Indexer.MaxCPU)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = zerolog.LevelInfoValue
	}

	logLevel, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, errors.Wrap(err, "parsing log level")
	}
	zerolog.SetGlobalLevel(logLevel)
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if file[i] == '/' {
				short = file[i+1:]
				break
			}
		}
		file = short
		return file + ":" + strconv.Itoa(line)
	}
	log.Logger = log.Logger.With().Caller().Logger()
	return cfg, nil
}

func newRegistry(pg postgres.Storage, cfg IndexerConfig) *registry.Registry {
	opts := make([]registry.Option, 0)
	if cfg.CacheSize > 0 {
		opts = append(opts, registry.WithCacheSize(cfg.CacheSize))
	}
	return registry.New(pg.Identifiers, pg.Nicknames, pg.Tokens, opts...)
}

func run(cfg Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := postgres.Create(ctx, cfg.Database)
	if err != nil {
		return errors.Wrap(err, "database creation")
	}

	views, err := postgres.CreateViews(ctx, pg)
	if err != nil {
		return errors.Wrap(err, "create views")
	}

	if cfg.Hasura != nil {
		hasuraModels := make([]any, len(storage.Models))
		for i := range storage.Models {
			hasuraModels[i] = storage.Models[i]
		}
		if err := hasura.Create(ctx, hasura.GenerateArgs{
			Config:         cfg.Hasura,
			DatabaseConfig: cfg.Database,
			Views:          views,
			Models:         hasuraModels,
		}); err != nil {
			log.Err(err).Msg("hasura.Create")
		}
	}

	datasource, ok := cfg.DataSources[cfg.Indexer.Datasource]
	if !ok {
		return errors.Errorf("unknown datasource: %s", cfg.Indexer.Datasource)
	}
	client, err := node.New(ctx, datasource)
	if err != nil {
		return err
	}

	reg := newRegistry(pg, cfg.Indexer)

	var filler *Filler
	if cfg.Indexer.Filler.Datasource != "" {
		c, err := newCaller(ctx, cfg.Indexer.Filler.Datasource, cfg.DataSources)
		if err != nil {
			return err
		}
		f := NewFiller(cfg.Indexer.Filler, c, pg.Tokens, reg)
		filler = &f
	}

	metricsRegistry := prometheus.NewRegistry()
	opts := []pipeline.Option{
		pipeline.WithMetrics(pipeline.NewMetrics(metricsRegistry)),
	}
	if cfg.Indexer.Workers > 0 {
		opts = append(opts, pipeline.WithWorkers(cfg.Indexer.Workers))
	}
	if cfg.Indexer.MaxRetries > 0 {
		opts = append(opts, pipeline.WithMaxRetries(cfg.Indexer.MaxRetries))
	}
	if cfg.Indexer.RetryInterval > 0 {
		opts = append(opts, pipeline.WithRetryInterval(time.Millisecond*time.Duration(cfg.Indexer.RetryInterval)))
	}
	if filler != nil {
		opts = append(opts, pipeline.WithTokenHandler(filler.Notify))
	}

	p := pipeline.New(cfg.Indexer.Name, pg, reg, aggregator.New(pg.Stats), opts...)
	receiver := NewReceiver(client, time.Second*time.Duration(cfg.Indexer.PollInterval), cfg.Indexer.ReorgDepth)
	indexer := NewIndexer(cfg.Indexer, pg, p, receiver, filler)

	if err := modules.Connect(receiver, indexer, OutputName, InputName); err != nil {
		return errors.Wrap(err, "module connect")
	}

	var server *http.Server
	if cfg.Metrics.Listen != "" {
		server = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: time.Second * 10,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Err(err).Msg("metrics listener")
			}
		}()
	}

	indexer.Start(ctx)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	<-signals

	cancel()

	if err := indexer.Close(); err != nil {
		log.Err(err).Msg("closing indexer")
	}
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*5)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Err(err).Msg("closing metrics listener")
		}
		shutdownCancel()
	}
	if err := pg.Storage.Close(); err != nil {
		log.Err(err).Msg("closing database connection")
	}

	close(signals)
	return nil
}
