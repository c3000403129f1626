// Package types holds the data shapes shared across the parsing,
// accumulation, reduction, and serving layers of the tunnel-log analyzer.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies which of the three tunnel-log event classes a line
// describes.
type EventKind uint8

const (
	// Capacity records a link-layer transmission opportunity. It is never
	// attributed to a flow.
	Capacity EventKind = iota
	// Arrival records a packet entering the tunnel on the sender side.
	Arrival
	// Departure records a packet exiting the tunnel on the receiver side,
	// carrying an observed one-way delay.
	Departure
)

func (k EventKind) String() string {
	switch k {
	case Capacity:
		return "capacity"
	case Arrival:
		return "arrival"
	case Departure:
		return "departure"
	default:
		return "unknown"
	}
}

// Event is one parsed line of a tunnel log. It is ephemeral: it lives only
// during parsing and is consumed immediately by the accumulator.
type Event struct {
	TimestampMs float64
	Kind        EventKind
	Bits        uint64
	FlowID      uint32 // resolved; default 0 when the line omitted a flow id
	DelayMs     float64
	HasDelay    bool // true iff Kind == Departure
}

// FlowStats is the per-flow accumulator state. Bin totals are kept sparse —
// only bins actually observed get a map entry; the reducer densifies the
// range on read-out.
type FlowStats struct {
	ID uint32

	ArrivalsByBin   map[int64]uint64
	DeparturesByBin map[int64]uint64

	Delays      []float64 // one-way delay per departure, ms, in append order
	DelayTimesS []float64 // (ts-first_ts)/1000 per departure, same order as Delays

	FirstArrivalMs   *float64
	LastArrivalMs    *float64
	FirstDepartureMs *float64
	LastDepartureMs  *float64

	TotalArrivalBits   uint64
	TotalDepartureBits uint64
}

// NewFlowStats allocates a FlowStats ready to accumulate events for id.
func NewFlowStats(id uint32) *FlowStats {
	return &FlowStats{
		ID:              id,
		ArrivalsByBin:   make(map[int64]uint64),
		DeparturesByBin: make(map[int64]uint64),
	}
}

// CapacityStats is the global (not per-flow) capacity accumulator state.
type CapacityStats struct {
	CapacityByBin map[int64]uint64

	FirstCapacityMs *float64
	LastCapacityMs  *float64
}

// NewCapacityStats allocates an empty CapacityStats.
func NewCapacityStats() *CapacityStats {
	return &CapacityStats{CapacityByBin: make(map[int64]uint64)}
}

// GlobalStats aggregates arrival/departure totals and timestamps across all
// flows. The concatenation of every flow's delay samples (in
// first-observed flow order) is assembled by the reducer, not held here.
type GlobalStats struct {
	TotalArrivalBits   uint64
	TotalDepartureBits uint64

	TotalFirstArrivalMs   *float64
	TotalLastArrivalMs    *float64
	TotalFirstDepartureMs *float64
	TotalLastDepartureMs  *float64
}

// Series is a dense (time, value) time series, e.g. link capacity or
// per-flow throughput in Mbit/s, sampled at bin boundaries.
type Series struct {
	TimesS []float64 `json:"times_s"`
	Values []float64 `json:"values"`
}

// DelayScatter is the raw per-departure delay observations for one flow,
// suitable for a scatter plot against elapsed time.
type DelayScatter struct {
	TimesS []float64 `json:"times_s"`
	Delays []float64 `json:"delays_ms"`
}

// SevenNumberSummary holds the 2nd/9th/25th/50th/75th/91st/98th nearest-rank
// percentiles of a delay population.
type SevenNumberSummary struct {
	P02 float64 `json:"p02"`
	P09 float64 `json:"p09"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P91 float64 `json:"p91"`
	P98 float64 `json:"p98"`
}

// FlowMetrics is the reduced, read-only set of derived values for one flow.
type FlowMetrics struct {
	FlowID uint32 `json:"flow_id"`

	IngressSeries Series       `json:"ingress_series"`
	EgressSeries  Series       `json:"egress_series"`
	DelayScatter  DelayScatter `json:"delay_scatter"`

	AvgIngressMbps float64 `json:"avg_ingress_mbps"`
	AvgEgressMbps  float64 `json:"avg_egress_mbps"`

	PercentileDelayMs *float64            `json:"percentile_delay_ms"`
	AvgDelayMs        *float64            `json:"avg_delay_ms"`
	DelaySummary      *SevenNumberSummary `json:"delay_summary,omitempty"`
	LossRate          *float64            `json:"loss_rate"`
}

// FlowResult is the compact per-flow summary exposed in AnalysisResult's
// flow_data map (the original analyzer's "all"/"<flow id>" entries).
type FlowResult struct {
	ThroughputMbps *float64 `json:"tput"`
	DelayMs        *float64 `json:"delay"`
	LossRate       *float64 `json:"loss"`
}

// AnalysisResult is the immutable output of one run of the analyzer.
type AnalysisResult struct {
	RunID       uuid.UUID `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`

	AvgCapacityMbps *float64 `json:"avg_capacity_mbps"`
	LinkCapacity    Series   `json:"link_capacity"`

	TotalAvgEgressMbps  float64             `json:"total_avg_egress_mbps"`
	TotalAvgIngressMbps float64             `json:"total_avg_ingress_mbps"`
	TotalPercentileMs   *float64            `json:"total_percentile_delay_ms"`
	TotalAvgDelayMs     *float64            `json:"total_avg_delay_ms"`
	TotalLossRate       *float64            `json:"total_loss_rate"`
	TotalDurationMs     float64             `json:"total_duration_ms"`
	TotalDelaySummary   *SevenNumberSummary `json:"total_delay_summary,omitempty"`

	FlowOrder []uint32                `json:"flow_order"`
	Flows     map[uint32]*FlowMetrics `json:"flows"`

	// FlowData mirrors the original analyzer's tunnel_results['flow_data']:
	// "all" plus every non-zero flow id.
	FlowData map[string]FlowResult `json:"flow_data"`

	Stats string `json:"stats"`
}

// RunSummary is the compact record kept in run history: enough to render a
// history table without holding every series in memory.
type RunSummary struct {
	RunID          uuid.UUID `json:"run_id"`
	GeneratedAt    time.Time `json:"generated_at"`
	ThroughputMbps float64   `json:"throughput_mbps"`
	DelayMs        float64   `json:"delay_ms"`
	LossRate       float64   `json:"loss_rate"`
	DurationMs     float64   `json:"duration_ms"`
	FlowCount      int       `json:"flow_count"`
}

// RunsResponse is the JSON message sent to clients listing recent run
// summaries along with a server timestamp.
type RunsResponse struct {
	Runs      []RunSummary `json:"runs"`
	UpdatedAt string       `json:"updated_at"`
}

// MarshalJSON implements json.Marshaler with a manually allocated buffer,
// mirroring the allocation-conscious style used for the teacher's
// StatsResponse rather than relying on reflection-heavy struct tags alone.
func (r RunsResponse) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	buf = append(buf, `"runs":`...)
	v, err := json.Marshal(r.Runs)
	if err != nil {
		return nil, err
	}
	buf = append(buf, v...)
	buf = append(buf, ',')
	buf = append(buf, `"updated_at":`...)
	buf = append(buf, '"')
	buf = append(buf, r.UpdatedAt...)
	buf = append(buf, '"')
	buf = append(buf, '}')
	return buf, nil
}
