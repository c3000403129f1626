// Package accumulate consumes a stream of parsed tunnel-log Events and
// builds the per-flow, per-capacity, and global counters the reducer needs.
// It makes a single pass over the events and never mutates its state once
// the reducer begins reading it.
package accumulate

import (
	"fmt"

	"github.com/galpt/tunnelstats/pkg/types"
)

// NegativeBinError is returned when an event's timestamp precedes the first
// observed timestamp, which would otherwise bin to a negative index. The
// source tolerates out-of-order events only so long as none of them precede
// the very first one seen.
type NegativeBinError struct {
	TimestampMs float64
	FirstTsMs   float64
}

func (e *NegativeBinError) Error() string {
	return fmt.Sprintf("event timestamp %v precedes first timestamp %v (negative bin)", e.TimestampMs, e.FirstTsMs)
}

// State is the full accumulator: capacity stats, per-flow stats (in
// first-insertion order), and the cross-flow totals. Zero value is not
// ready for use — construct with New.
type State struct {
	BinWidthMs float64

	firstTs    *float64
	Capacity   *types.CapacityStats
	Global     types.GlobalStats

	flowOrder []uint32
	flows     map[uint32]*types.FlowStats
}

// New constructs an empty accumulator state for the given bin width in
// milliseconds. binWidthMs must be positive.
func New(binWidthMs float64) *State {
	return &State{
		BinWidthMs: binWidthMs,
		Capacity:   types.NewCapacityStats(),
		flows:      make(map[uint32]*types.FlowStats),
	}
}

// FlowOrder returns flow ids in first-observed order.
func (s *State) FlowOrder() []uint32 {
	return s.flowOrder
}

// Flow returns the FlowStats for id, or nil if the flow was never observed.
func (s *State) Flow(id uint32) *types.FlowStats {
	return s.flows[id]
}

// flowFor returns the FlowStats for id, creating it (and recording insertion
// order) on first observation.
func (s *State) flowFor(id uint32) *types.FlowStats {
	fs, ok := s.flows[id]
	if !ok {
		fs = types.NewFlowStats(id)
		s.flows[id] = fs
		s.flowOrder = append(s.flowOrder, id)
	}
	return fs
}

// binID maps a timestamp to its bin index relative to the fixed first
// timestamp. first_ts is set on the very first event observed (of any
// kind) and never reassigned thereafter.
func (s *State) binID(tsMs float64) (int64, error) {
	if s.firstTs == nil {
		s.firstTs = &tsMs
	}
	delta := tsMs - *s.firstTs
	bin := int64(delta / s.BinWidthMs)
	// int64() truncates toward zero; floor() and truncation agree for
	// delta >= 0, which a negative-bin check enforces below.
	if delta < 0 {
		return 0, &NegativeBinError{TimestampMs: tsMs, FirstTsMs: *s.firstTs}
	}
	return bin, nil
}

// Add folds one event into the accumulator state. It returns a
// *NegativeBinError if the event's timestamp precedes the first timestamp
// ever observed.
func (s *State) Add(ev types.Event) error {
	bin, err := s.binID(ev.TimestampMs)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case types.Capacity:
		s.Capacity.CapacityByBin[bin] += ev.Bits
		setFirst(&s.Capacity.FirstCapacityMs, ev.TimestampMs)
		setLastIfGreater(&s.Capacity.LastCapacityMs, ev.TimestampMs)

	case types.Arrival:
		fs := s.flowFor(ev.FlowID)
		fs.ArrivalsByBin[bin] += ev.Bits
		fs.TotalArrivalBits += ev.Bits
		setFirst(&fs.FirstArrivalMs, ev.TimestampMs)
		setLastIfGreater(&fs.LastArrivalMs, ev.TimestampMs)

		s.Global.TotalArrivalBits += ev.Bits
		setFirst(&s.Global.TotalFirstArrivalMs, ev.TimestampMs)
		setLastIfGreater(&s.Global.TotalLastArrivalMs, ev.TimestampMs)

	case types.Departure:
		fs := s.flowFor(ev.FlowID)
		fs.DeparturesByBin[bin] += ev.Bits
		fs.TotalDepartureBits += ev.Bits
		setFirst(&fs.FirstDepartureMs, ev.TimestampMs)
		setLastIfGreater(&fs.LastDepartureMs, ev.TimestampMs)
		fs.Delays = append(fs.Delays, ev.DelayMs)
		fs.DelayTimesS = append(fs.DelayTimesS, (ev.TimestampMs-*s.firstTs)/1000.0)

		s.Global.TotalDepartureBits += ev.Bits
		setFirst(&s.Global.TotalFirstDepartureMs, ev.TimestampMs)
		setLastIfGreater(&s.Global.TotalLastDepartureMs, ev.TimestampMs)

	default:
		return fmt.Errorf("accumulate: unknown event kind %v", ev.Kind)
	}
	return nil
}

// setFirst sets *dst to v iff dst currently holds no value. "First" is
// fixed on the first observation and never reassigned.
func setFirst(dst **float64, v float64) {
	if *dst == nil {
		val := v
		*dst = &val
	}
}

// setLastIfGreater updates *dst to v when dst holds no value yet, or when v
// is strictly greater than the current value. Equal timestamps never
// overwrite.
func setLastIfGreater(dst **float64, v float64) {
	if *dst == nil || v > **dst {
		val := v
		*dst = &val
	}
}
