// Package assemble runs the full parse→accumulate→reduce pipeline over a
// tunnel log and packages the result into the structured AnalysisResult
// plus its human-readable summary string.
package assemble

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/galpt/tunnelstats/pkg/accumulate"
	"github.com/galpt/tunnelstats/pkg/parser"
	"github.com/galpt/tunnelstats/pkg/reduce"
	"github.com/galpt/tunnelstats/pkg/tracing"
	"github.com/galpt/tunnelstats/pkg/types"
)

// DefaultBinWidthMs is the bin width used when a caller does not override
// it, matching the original analyzer's default of 500ms bins.
const DefaultBinWidthMs = 500.0

// Analyze reads a tunnel log from r, runs the full pipeline once, and
// returns the resulting AnalysisResult. binWidthMs must be positive; a
// non-positive value is rejected with an error before r is read. Otherwise
// the only errors returned are *parser.LineError and
// *accumulate.NegativeBinError (both fatal, per the tunnel-log error
// model) or an I/O error from r.
//
// Each of the four pipeline stages (parse, accumulate, reduce, assemble)
// runs under its own span from tracer; pass tracing.Noop() for a run that
// should not be traced. onEvent, if non-nil, is called once per parsed
// event so a caller can maintain its own per-kind counters (e.g.
// Prometheus); it is never required for correctness.
func Analyze(ctx context.Context, r io.Reader, binWidthMs float64, tracer *tracing.Provider, onEvent func(types.EventKind)) (*types.AnalysisResult, error) {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	if binWidthMs <= 0 {
		return nil, fmt.Errorf("ms_per_bin must be positive, got %v", binWidthMs)
	}

	runID := uuid.New()
	ctx, runSpan := tracer.StartRun(ctx, runID.String(), 0)
	defer runSpan.End()

	var events []types.Event
	_, parseSpan := tracer.StartStage(ctx, "parse")
	err := parser.Scan(r, func(ev types.Event) error {
		events = append(events, ev)
		if onEvent != nil {
			onEvent(ev.Kind)
		}
		return nil
	})
	parseSpan.End()
	if err != nil {
		return nil, err
	}

	st := accumulate.New(binWidthMs)
	_, accSpan := tracer.StartStage(ctx, "accumulate")
	for _, ev := range events {
		if err := st.Add(ev); err != nil {
			accSpan.End()
			return nil, err
		}
	}
	accSpan.End()

	_, reduceSpan := tracer.StartStage(ctx, "reduce")
	agg := reduce.Reduce(st.Global, st.FlowOrder(), flowMap(st))
	reduceSpan.End()

	_, assembleSpan := tracer.StartStage(ctx, "assemble")
	res := assemble(runID, st, agg, binWidthMs)
	assembleSpan.End()

	return res, nil
}

func assemble(runID uuid.UUID, st *accumulate.State, agg reduce.Aggregate, binWidthMs float64) *types.AnalysisResult {
	res := &types.AnalysisResult{
		RunID:           runID,
		GeneratedAt:     time.Now().UTC(),
		AvgCapacityMbps: reduce.AverageCapacityMbps(st.Capacity),
		LinkCapacity:    reduce.LinkCapacitySeries(st.Capacity, binWidthMs),
		FlowOrder:       st.FlowOrder(),
		Flows:           make(map[uint32]*types.FlowMetrics, len(st.FlowOrder())),
		FlowData:        make(map[string]types.FlowResult, len(st.FlowOrder())+1),
	}

	res.TotalAvgEgressMbps = agg.TotalAvgEgressMbps
	res.TotalAvgIngressMbps = agg.TotalAvgIngressMbps
	res.TotalPercentileMs = agg.TotalPercentileMs
	res.TotalAvgDelayMs = agg.TotalAvgDelayMs
	res.TotalLossRate = agg.TotalLossRate
	res.TotalDurationMs = agg.TotalDurationMs
	res.TotalDelaySummary = agg.TotalDelaySummary

	for _, id := range st.FlowOrder() {
		fs := st.Flow(id)
		m := reduce.FlowMetrics(fs, binWidthMs)
		res.Flows[id] = m
		if id != 0 {
			res.FlowData[strconv.FormatUint(uint64(id), 10)] = types.FlowResult{
				ThroughputMbps: floatPtr(m.AvgEgressMbps),
				DelayMs:        m.PercentileDelayMs,
				LossRate:       m.LossRate,
			}
		}
	}

	res.FlowData["all"] = types.FlowResult{
		ThroughputMbps: floatPtr(res.TotalAvgEgressMbps),
		DelayMs:        res.TotalPercentileMs,
		LossRate:       res.TotalLossRate,
	}

	res.Stats = StatisticsString(res)
	return res
}

func flowMap(st *accumulate.State) map[uint32]*types.FlowStats {
	m := make(map[uint32]*types.FlowStats, len(st.FlowOrder()))
	for _, id := range st.FlowOrder() {
		m[id] = st.Flow(id)
	}
	return m
}

func floatPtr(v float64) *float64 { return &v }

// StatisticsString renders the stable, line-oriented human summary
// described by the tunnel-log format: a totals section followed by one
// block per flow in first-observed order. Absent (nil) metrics omit their
// line entirely.
func StatisticsString(res *types.AnalysisResult) string {
	var b strings.Builder

	n := len(res.FlowOrder)
	flowsWord := "flows"
	if n == 1 {
		flowsWord = "flow"
	}
	fmt.Fprintf(&b, "-- Total of %d %s:\n", n, flowsWord)

	if res.AvgCapacityMbps != nil {
		fmt.Fprintf(&b, "Average capacity: %.2f Mbit/s\n", *res.AvgCapacityMbps)
	}

	fmt.Fprintf(&b, "Average throughput: %.2f Mbit/s", res.TotalAvgEgressMbps)
	if res.AvgCapacityMbps != nil && *res.AvgCapacityMbps != 0 {
		fmt.Fprintf(&b, " (%.1f%% utilization)", 100.0*res.TotalAvgEgressMbps / *res.AvgCapacityMbps)
	}
	b.WriteByte('\n')

	if res.TotalPercentileMs != nil {
		fmt.Fprintf(&b, "95th percentile per-packet one-way delay: %.3f ms\n", *res.TotalPercentileMs)
	}

	if res.TotalLossRate != nil {
		fmt.Fprintf(&b, "Loss rate: %.2f%%\n", *res.TotalLossRate*100.0)
	}

	for _, id := range res.FlowOrder {
		fmt.Fprintf(&b, "-- Flow %d:\n", id)
		m := res.Flows[id]

		fmt.Fprintf(&b, "Average throughput: %.2f Mbit/s\n", m.AvgEgressMbps)

		if m.PercentileDelayMs != nil {
			fmt.Fprintf(&b, "95th percentile per-packet one-way delay: %.3f ms\n", *m.PercentileDelayMs)
		}

		if m.LossRate != nil {
			fmt.Fprintf(&b, "Loss rate: %.2f%%\n", *m.LossRate*100.0)
		}
	}

	return b.String()
}
