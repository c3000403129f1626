package accumulate

import (
	"testing"

	"github.com/galpt/tunnelstats/pkg/types"
)

func add(t *testing.T, st *State, ev types.Event) {
	t.Helper()
	if err := st.Add(ev); err != nil {
		t.Fatalf("Add(%+v): %v", ev, err)
	}
}

func TestAddCapacityAccumulatesByBin(t *testing.T) {
	st := New(500.0)
	add(t, st, types.Event{TimestampMs: 0, Kind: types.Capacity, Bits: 12000})
	add(t, st, types.Event{TimestampMs: 1000, Kind: types.Capacity, Bits: 12000})

	if got := st.Capacity.CapacityByBin[0]; got != 12000 {
		t.Errorf("bin 0: want 12000, got %d", got)
	}
	if got := st.Capacity.CapacityByBin[2]; got != 12000 {
		t.Errorf("bin 2: want 12000, got %d", got)
	}
	if _, ok := st.Capacity.CapacityByBin[1]; ok {
		t.Error("bin 1 should be unobserved (sparse map), not zero-valued")
	}
	if *st.Capacity.FirstCapacityMs != 0 {
		t.Errorf("first: want 0, got %v", *st.Capacity.FirstCapacityMs)
	}
	if *st.Capacity.LastCapacityMs != 1000 {
		t.Errorf("last: want 1000, got %v", *st.Capacity.LastCapacityMs)
	}
}

func TestAddArrivalCreatesFlowInInsertionOrder(t *testing.T) {
	st := New(500.0)
	add(t, st, types.Event{TimestampMs: 0, Kind: types.Arrival, Bits: 1000, FlowID: 2})
	add(t, st, types.Event{TimestampMs: 0, Kind: types.Arrival, Bits: 1000, FlowID: 1})

	if got := st.FlowOrder(); len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Errorf("flow order: want [2 1], got %v", got)
	}
}

func TestAddDeparturesAccumulateDelaysInOrder(t *testing.T) {
	st := New(500.0)
	add(t, st, types.Event{TimestampMs: 0, Kind: types.Arrival, Bits: 1000, FlowID: 1})
	add(t, st, types.Event{TimestampMs: 10, Kind: types.Departure, Bits: 1000, FlowID: 1, DelayMs: 5, HasDelay: true})
	add(t, st, types.Event{TimestampMs: 20, Kind: types.Departure, Bits: 1000, FlowID: 1, DelayMs: 3, HasDelay: true})

	fs := st.Flow(1)
	if len(fs.Delays) != 2 || fs.Delays[0] != 5 || fs.Delays[1] != 3 {
		t.Errorf("delays: want [5 3], got %v", fs.Delays)
	}
	if fs.DelayTimesS[0] != 0.01 {
		t.Errorf("first delay time: want 0.01, got %v", fs.DelayTimesS[0])
	}
}

func TestFirstTimestampFixedAcrossKinds(t *testing.T) {
	st := New(500.0)
	add(t, st, types.Event{TimestampMs: 100, Kind: types.Arrival, Bits: 1000, FlowID: 1})
	add(t, st, types.Event{TimestampMs: 600, Kind: types.Departure, Bits: 1000, FlowID: 1, DelayMs: 1, HasDelay: true})

	// A 600ms event arriving 500ms after the fixed first timestamp (100ms)
	// must land in bin 1, not in bin 0 as it would relative to its own
	// kind's first seen timestamp (600ms).
	fs := st.Flow(1)
	if _, ok := fs.DeparturesByBin[1]; !ok {
		t.Errorf("want departure in bin 1, got bins %v", fs.DeparturesByBin)
	}
}

func TestAddRejectsTimestampBeforeFirst(t *testing.T) {
	st := New(500.0)
	add(t, st, types.Event{TimestampMs: 1000, Kind: types.Arrival, Bits: 1000, FlowID: 1})

	err := st.Add(types.Event{TimestampMs: 999, Kind: types.Arrival, Bits: 1000, FlowID: 1})
	if err == nil {
		t.Fatal("want NegativeBinError, got nil")
	}
	if _, ok := err.(*NegativeBinError); !ok {
		t.Fatalf("want *NegativeBinError, got %T: %v", err, err)
	}
}

func TestLastTimestampNeverRegressesOnEqualValues(t *testing.T) {
	st := New(500.0)
	add(t, st, types.Event{TimestampMs: 1000, Kind: types.Arrival, Bits: 1000, FlowID: 1})
	add(t, st, types.Event{TimestampMs: 1000, Kind: types.Arrival, Bits: 1000, FlowID: 1})

	fs := st.Flow(1)
	if *fs.FirstArrivalMs != 1000 || *fs.LastArrivalMs != 1000 {
		t.Errorf("want first=last=1000, got first=%v last=%v", *fs.FirstArrivalMs, *fs.LastArrivalMs)
	}
}

func TestGlobalTotalsAccumulateAcrossFlows(t *testing.T) {
	st := New(500.0)
	add(t, st, types.Event{TimestampMs: 0, Kind: types.Arrival, Bits: 1000, FlowID: 1})
	add(t, st, types.Event{TimestampMs: 0, Kind: types.Arrival, Bits: 1000, FlowID: 2})

	if st.Global.TotalArrivalBits != 2000 {
		t.Errorf("total arrival bits: want 2000, got %d", st.Global.TotalArrivalBits)
	}
}
