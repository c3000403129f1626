package parser

import (
	"strings"
	"testing"

	"github.com/galpt/tunnelstats/pkg/types"
)

func collect(t *testing.T, log string) []types.Event {
	t.Helper()
	var events []types.Event
	if err := Scan(strings.NewReader(log), func(ev types.Event) error {
		events = append(events, ev)
		return nil
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return events
}

func TestScanCapacityLine(t *testing.T) {
	events := collect(t, "0 # 1500\n")
	if len(events) != 1 {
		t.Fatalf("want 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Kind != types.Capacity {
		t.Errorf("kind: want Capacity, got %v", ev.Kind)
	}
	if ev.Bits != 12000 {
		t.Errorf("bits: want 12000, got %d", ev.Bits)
	}
	if ev.TimestampMs != 0 {
		t.Errorf("timestamp: want 0, got %v", ev.TimestampMs)
	}
}

func TestScanArrivalDefaultsFlowZero(t *testing.T) {
	events := collect(t, "1000.0 + 100\n")
	ev := events[0]
	if ev.Kind != types.Arrival {
		t.Errorf("kind: want Arrival, got %v", ev.Kind)
	}
	if ev.FlowID != 0 {
		t.Errorf("flow id: want 0, got %d", ev.FlowID)
	}
	if ev.Bits != 800 {
		t.Errorf("bits: want 800, got %d", ev.Bits)
	}
}

func TestScanArrivalWithFlowID(t *testing.T) {
	events := collect(t, "0 + 125 1\n")
	ev := events[0]
	if ev.FlowID != 1 {
		t.Errorf("flow id: want 1, got %d", ev.FlowID)
	}
	if ev.Bits != 1000 {
		t.Errorf("bits: want 1000, got %d", ev.Bits)
	}
}

func TestScanDepartureWithDelay(t *testing.T) {
	events := collect(t, "1050.0 - 100 40\n")
	ev := events[0]
	if ev.Kind != types.Departure {
		t.Errorf("kind: want Departure, got %v", ev.Kind)
	}
	if !ev.HasDelay {
		t.Error("HasDelay: want true")
	}
	if ev.DelayMs != 40 {
		t.Errorf("delay: want 40, got %v", ev.DelayMs)
	}
	if ev.FlowID != 0 {
		t.Errorf("flow id: want 0, got %d", ev.FlowID)
	}
}

func TestScanDepartureWithFlowID(t *testing.T) {
	events := collect(t, "10 - 125 5 1\n")
	ev := events[0]
	if ev.FlowID != 1 {
		t.Errorf("flow id: want 1, got %d", ev.FlowID)
	}
	if ev.DelayMs != 5 {
		t.Errorf("delay: want 5, got %v", ev.DelayMs)
	}
}

func TestScanSkipsCommentAndBlankLines(t *testing.T) {
	events := collect(t, "# header\n\n1000.0 + 100\n1050.0 - 100 40\n")
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
}

func TestScanCapacityLineNotMistakenForComment(t *testing.T) {
	events := collect(t, "0 # 1500\n")
	if len(events) != 1 || events[0].Kind != types.Capacity {
		t.Fatalf("capacity line starting with a numeric token must not be treated as a comment, got %+v", events)
	}
}

func TestScanMalformedDepartureMissingDelay(t *testing.T) {
	err := Scan(strings.NewReader("1000.0 - 100\n"), func(types.Event) error { return nil })
	if err == nil {
		t.Fatal("want error, got nil")
	}
	lineErr, ok := err.(*LineError)
	if !ok {
		t.Fatalf("want *LineError, got %T: %v", err, err)
	}
	if lineErr.Line != 1 {
		t.Errorf("line: want 1, got %d", lineErr.Line)
	}
}

func TestScanMalformedArrivalTooManyTokens(t *testing.T) {
	err := Scan(strings.NewReader("0 + 125 1 extra\n"), func(types.Event) error { return nil })
	if _, ok := err.(*LineError); !ok {
		t.Fatalf("want *LineError, got %T: %v", err, err)
	}
}

func TestScanMalformedCapacityTooManyTokens(t *testing.T) {
	err := Scan(strings.NewReader("0 # 1500 extra\n"), func(types.Event) error { return nil })
	if _, ok := err.(*LineError); !ok {
		t.Fatalf("want *LineError, got %T: %v", err, err)
	}
}

func TestScanUnknownEventKind(t *testing.T) {
	err := Scan(strings.NewReader("0 ? 100\n"), func(types.Event) error { return nil })
	if _, ok := err.(*LineError); !ok {
		t.Fatalf("want *LineError, got %T: %v", err, err)
	}
}

func TestScanBadTimestamp(t *testing.T) {
	err := Scan(strings.NewReader("nope + 100\n"), func(types.Event) error { return nil })
	if _, ok := err.(*LineError); !ok {
		t.Fatalf("want *LineError, got %T: %v", err, err)
	}
}

func TestScanBadByteCount(t *testing.T) {
	err := Scan(strings.NewReader("0 + nope\n"), func(types.Event) error { return nil })
	if _, ok := err.(*LineError); !ok {
		t.Fatalf("want *LineError, got %T: %v", err, err)
	}
}

func TestScanReportsLineNumberOfFailure(t *testing.T) {
	err := Scan(strings.NewReader("0 + 100\n0 - 100\n"), func(types.Event) error { return nil })
	lineErr, ok := err.(*LineError)
	if !ok {
		t.Fatalf("want *LineError, got %T: %v", err, err)
	}
	if lineErr.Line != 2 {
		t.Errorf("line: want 2, got %d", lineErr.Line)
	}
}

func TestScanStopsOnEmitError(t *testing.T) {
	boom := strings.NewReader("0 + 100\n0 + 100\n")
	calls := 0
	wantErr := errStop("stop")
	err := Scan(boom, func(types.Event) error {
		calls++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("want %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Errorf("want emit called once before stopping, got %d", calls)
	}
}

type errStop string

func (e errStop) Error() string { return string(e) }
