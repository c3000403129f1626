package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/galpt/tunnelstats/pkg/assemble"
	"github.com/galpt/tunnelstats/pkg/config"
	"github.com/galpt/tunnelstats/pkg/history"
	"github.com/galpt/tunnelstats/pkg/log"
	"github.com/galpt/tunnelstats/pkg/metrics"
	"github.com/galpt/tunnelstats/pkg/plotgraph"
	"github.com/galpt/tunnelstats/pkg/server"
	"github.com/galpt/tunnelstats/pkg/tracing"
)

// Version is overridden at build-time.
var Version = "dev"

func main() {
	tunnelLog := flag.String("log", "", "path to the tunnel log (required; \"-\" for stdin)")
	msPerBin := flag.Float64("ms-per-bin", config.DefaultMsPerBin, "bin width in milliseconds")
	throughputGraph := flag.String("throughput-graph", "", "optional path to write a throughput graph to")
	delayGraph := flag.String("delay-graph", "", "optional path to write a delay graph to")
	listen := flag.String("listen", "", "optional bind address; when set, runs the HTTP server instead of analyzing -log once")
	histCap := flag.Int("history", config.DefaultHistoryCapacity, "run summaries to retain in history")
	metricsAddr := flag.String("metrics-addr", "", "optional; when non-empty, serves Prometheus metrics at /metrics on the -listen server (no separate listener is opened)")
	redisAddr := flag.String("redis-addr", "", "optional Redis address for persistent run history")
	otlpEndpoint := flag.String("otlp-endpoint", "", "optional OTLP/HTTP endpoint for trace export")
	showVer := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tunnelstats %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s -log <path> [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("tunnelstats %s\n", Version)
		os.Exit(0)
	}

	log.Logger = log.Logger.Level(zerolog.InfoLevel).With().Str("version", Version).Logger()

	cfg := &config.Config{
		TunnelLog:       *tunnelLog,
		ThroughputGraph: *throughputGraph,
		DelayGraph:      *delayGraph,
		MsPerBin:        *msPerBin,
		Listen:          *listen,
		HistoryCapacity: *histCap,
		MetricsAddr:     *metricsAddr,
		RedisAddr:       *redisAddr,
		OTLPEndpoint:    *otlpEndpoint,
	}
	if err := cfg.Validate(); err != nil {
		log.Logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Listen != "" {
		runServer(ctx, cfg)
		return
	}
	runOnce(ctx, cfg)
}

// runOnce analyzes a single tunnel log and prints its summary, exiting
// non-zero iff parsing failed.
func runOnce(ctx context.Context, cfg *config.Config) {
	if cfg.TunnelLog == "" {
		log.Logger.Fatal().Msg("-log is required")
	}

	f, err := openLog(cfg.TunnelLog)
	if err != nil {
		log.Logger.Error().Err(err).Msg("opening tunnel log")
		os.Exit(1)
	}
	defer f.Close()

	tracer, err := tracing.New(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("tracing disabled")
		tracer = tracing.Noop()
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	res, err := assemble.Analyze(ctx, f, cfg.MsPerBin, tracer, nil)
	if err != nil {
		log.Logger.Error().Err(err).Msg("analysis failed")
		os.Exit(1)
	}

	fmt.Fprint(os.Stderr, res.Stats)

	renderer := plotgraph.Stub{}
	if cfg.ThroughputGraph != "" {
		if err := renderer.ThroughputGraph(res, cfg.ThroughputGraph); err != nil {
			log.Logger.Warn().Err(err).Msg("throughput graph render failed")
		}
	}
	if cfg.DelayGraph != "" {
		if err := renderer.DelayGraph(res, cfg.DelayGraph); err != nil {
			log.Logger.Warn().Err(err).Msg("delay graph render failed")
		}
	}
}

// runServer runs the HTTP collaborator in place of the one-shot CLI summary
// path; no log given with -log is analyzed in this mode.
func runServer(ctx context.Context, cfg *config.Config) {
	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}

	tracer, err := tracing.New(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("tracing disabled")
		tracer = tracing.Noop()
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	store := newHistoryStore(ctx, cfg)

	srv := server.New(server.Config{
		BinWidthMs:      cfg.MsPerBin,
		HistoryCapacity: cfg.HistoryCapacity,
		ThroughputGraph: cfg.ThroughputGraph,
		DelayGraph:      cfg.DelayGraph,
	}, store, m, tracer)

	if err := srv.Run(ctx, cfg.Listen); err != nil {
		log.Logger.Fatal().Err(err).Msg("fatal")
	}
	log.Logger.Info().Msg("shutdown complete")
}

func newHistoryStore(ctx context.Context, cfg *config.Config) history.RunStore {
	if cfg.RedisAddr == "" {
		return history.NewRingStore(cfg.HistoryCapacity)
	}
	client := newRedisClient(cfg.RedisAddr)
	return history.NewRedisHistoryStore(ctx, client, cfg.HistoryCapacity)
}

func newRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func openLog(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}
