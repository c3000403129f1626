// Package server exposes the tunnel-log analyzer over HTTP: submit a log,
// get back the full AnalysisResult, and watch a ring buffer of recent run
// summaries — adapted from the teacher's "poll tc every N seconds" server
// to "accept one finite, already-closed log per run and publish its
// result." Nothing here re-opens a growing file or streams partial
// results; each run analyzes one closed log from start to finish.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	fiber "github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recovermiddleware "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/schema"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galpt/tunnelstats/pkg/accumulate"
	"github.com/galpt/tunnelstats/pkg/assemble"
	"github.com/galpt/tunnelstats/pkg/history"
	"github.com/galpt/tunnelstats/pkg/log"
	"github.com/galpt/tunnelstats/pkg/metrics"
	"github.com/galpt/tunnelstats/pkg/parser"
	"github.com/galpt/tunnelstats/pkg/plotgraph"
	"github.com/galpt/tunnelstats/pkg/tracing"
	"github.com/galpt/tunnelstats/pkg/types"
)

const sseBufSize = 4

// Server encapsulates the Fiber app, run-result cache, SSE client registry
// and history store. It is safe for concurrent use.
type Server struct {
	app *fiber.App

	binWidthMs float64
	renderer   plotgraph.Renderer
	throughput string
	delay      string

	history history.RunStore
	metrics *metrics.Metrics
	tracer  *tracing.Provider
	decoder *schema.Decoder

	resultsMu   sync.RWMutex
	results     map[uuid.UUID]*types.AnalysisResult
	resultOrder []uuid.UUID
	capacity    int

	ssesMu  sync.Mutex
	clients map[chan []byte]struct{}
}

// Config configures the server; fields mirror the subset of pkg/config's
// Config this collaborator needs.
type Config struct {
	BinWidthMs      float64
	HistoryCapacity int
	ThroughputGraph string
	DelayGraph      string
}

// New constructs a Server. store may be a *history.RingStore or a
// *history.RedisHistoryStore; m and tracer may be nil, in which case
// metrics and tracing are skipped.
func New(cfg Config, store history.RunStore, m *metrics.Metrics, tracer *tracing.Provider) *Server {
	if cfg.HistoryCapacity < 1 {
		cfg.HistoryCapacity = 1
	}
	s := &Server{
		binWidthMs: cfg.BinWidthMs,
		renderer:   plotgraph.Stub{},
		throughput: cfg.ThroughputGraph,
		delay:      cfg.DelayGraph,
		history:    store,
		metrics:    m,
		tracer:     tracer,
		decoder:    schema.NewDecoder(),
		results:    make(map[uuid.UUID]*types.AnalysisResult),
		capacity:   cfg.HistoryCapacity,
		clients:    make(map[chan []byte]struct{}),
	}

	app := fiber.New(fiber.Config{
		ServerHeader: "tunnelstats",
	})
	app.Use(recovermiddleware.New())

	app.Post("/api/runs", s.handleCreateRun)
	app.Get("/api/runs", s.handleListRuns)
	app.Get("/api/runs/:id", s.handleGetRun)
	app.Get("/events", s.handleSSE)
	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	s.app = app
	return s
}

// Run starts the Fiber app, shutting it down when ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		_ = s.app.Shutdown()
	}()
	log.Logger.Info().Str("addr", addr).Msg("listening")
	return s.app.Listen(addr)
}

type listRunsQuery struct {
	Limit int `schema:"limit"`
}

func (s *Server) handleListRuns(c fiber.Ctx) error {
	q := listRunsQuery{}
	src := make(map[string][]string, len(c.Queries()))
	for k, v := range c.Queries() {
		src[k] = []string{v}
	}
	if err := s.decoder.Decode(&q, src); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "bad query: "+err.Error())
	}
	snap := s.history.Snapshot(q.Limit)
	resp := types.RunsResponse{Runs: snap, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	c.Set("Content-Type", "application/json; charset=utf-8")
	b, _ := resp.MarshalJSON()
	return c.Send(b)
}

func (s *Server) handleGetRun(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid run id")
	}
	s.resultsMu.RLock()
	res, ok := s.results[id]
	s.resultsMu.RUnlock()
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "run not found")
	}
	c.Set("Content-Type", "application/json; charset=utf-8")
	return c.JSON(res)
}

func (s *Server) handleCreateRun(c fiber.Ctx) error {
	started := time.Now()
	var onEvent func(types.EventKind)
	if s.metrics != nil {
		onEvent = s.metrics.ObserveEvent
	}

	res, err := assemble.Analyze(c.Context(), bytes.NewReader(c.Body()), s.binWidthMs, s.tracer, onEvent)
	elapsed := time.Since(started).Seconds()

	if err != nil {
		kind := errorKind(err)
		log.Logger.Error().Err(err).Str("kind", kind).Msg("run failed")
		if s.metrics != nil {
			s.metrics.ObserveRun(elapsed, 0, kind)
		}
		status := fiber.StatusUnprocessableEntity
		if kind == metrics.KindIOError {
			status = fiber.StatusInternalServerError
		}
		return fiber.NewError(status, err.Error())
	}

	if s.metrics != nil {
		s.metrics.ObserveRun(elapsed, len(res.FlowOrder), "")
	}

	s.recordResult(res)
	s.renderGraphs(res)
	s.broadcast(res)

	c.Set("Content-Type", "application/json; charset=utf-8")
	return c.JSON(res)
}

func (s *Server) recordResult(res *types.AnalysisResult) {
	summary := types.RunSummary{
		RunID:          res.RunID,
		GeneratedAt:    res.GeneratedAt,
		ThroughputMbps: res.TotalAvgEgressMbps,
		LossRate:       derefOr(res.TotalLossRate, 0),
		DurationMs:     res.TotalDurationMs,
		FlowCount:      len(res.FlowOrder),
	}
	if res.TotalPercentileMs != nil {
		summary.DelayMs = *res.TotalPercentileMs
	}
	s.history.Record(summary)

	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	s.results[res.RunID] = res
	s.resultOrder = append(s.resultOrder, res.RunID)
	if len(s.resultOrder) > s.capacity {
		evict := s.resultOrder[0]
		s.resultOrder = s.resultOrder[1:]
		delete(s.results, evict)
	}
}

func (s *Server) renderGraphs(res *types.AnalysisResult) {
	if s.throughput != "" {
		if err := s.renderer.ThroughputGraph(res, s.throughput); err != nil {
			log.Logger.Warn().Err(err).Msg("throughput graph render failed")
		}
	}
	if s.delay != "" {
		if err := s.renderer.DelayGraph(res, s.delay); err != nil {
			log.Logger.Warn().Err(err).Msg("delay graph render failed")
		}
	}
}

func (s *Server) broadcast(res *types.AnalysisResult) {
	summary := types.RunSummary{RunID: res.RunID, GeneratedAt: res.GeneratedAt, ThroughputMbps: res.TotalAvgEgressMbps}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	event := buildSSEEvent(payload)

	s.ssesMu.Lock()
	defer s.ssesMu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

var sseBufPool = sync.Pool{New: func() any { b := make([]byte, 0, 1024); return &b }}

func buildSSEEvent(payload []byte) []byte {
	buf := sseBufPool.Get().(*[]byte)
	*buf = (*buf)[:0]
	*buf = append(*buf, "retry: 2000\ndata: "...)
	*buf = append(*buf, payload...)
	*buf = append(*buf, "\n\n"...)
	out := make([]byte, len(*buf))
	copy(out, *buf)
	sseBufPool.Put(buf)
	return out
}

func (s *Server) handleSSE(c fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ch := make(chan []byte, sseBufSize)

	s.ssesMu.Lock()
	s.clients[ch] = struct{}{}
	s.ssesMu.Unlock()

	c.RequestCtx().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			s.ssesMu.Lock()
			delete(s.clients, ch)
			s.ssesMu.Unlock()
		}()

		for event := range ch {
			if _, err := w.Write(event); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}

func errorKind(err error) string {
	switch err.(type) {
	case *parser.LineError:
		return metrics.KindMalformedLine
	case *accumulate.NegativeBinError:
		return metrics.KindNegativeBin
	default:
		return metrics.KindIOError
	}
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
