// Package parser turns a tunnel event log into a lazy sequence of typed
// Events. It performs no accumulation or statistics of its own; that is
// the job of pkg/accumulate and pkg/reduce.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/galpt/tunnelstats/pkg/types"
)

// LineError reports a malformed tunnel-log line together with its 1-based
// line number, so a caller can point a user at the exact offending line.
type LineError struct {
	Line int
	Msg  string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("tunnel log line %d: %s", e.Line, e.Msg)
}

// The other fatal error of the pipeline, NegativeBinError, is declared and
// returned by the accumulator, not this package. See pkg/accumulate.

// Scan reads a tunnel log from r and calls emit once per parsed Event, in
// file order. Comment lines (first non-space character is '#' and token 0
// does not parse as a number) and blank lines are skipped. A malformed line
// — wrong arity for its kind, or a non-numeric token where one is required —
// aborts with a *LineError carrying the 1-based line number. Scan does not
// buffer the whole file; it is safe to call on an arbitrarily large log.
func Scan(r io.Reader, emit func(types.Event) error) error {
	sc := bufio.NewScanner(r)
	// Tunnel logs can have very long lines in principle (many flows); grow
	// the buffer well past bufio's 64KiB default.
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 8*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		fields := strings.Fields(trimmed)

		// A capacity event's second token is the literal '#' rune, which
		// looks like a comment marker at a glance. Distinguish by whether
		// token 0 parses as a number: a true comment line's first token is
		// not numeric.
		if strings.HasPrefix(trimmed, "#") {
			if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
				continue
			}
		}

		ev, err := parseLine(fields)
		if err != nil {
			return &LineError{Line: lineNo, Msg: err.Error()}
		}

		if err := emit(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading tunnel log: %w", err)
	}
	return nil
}

// parseLine classifies one whitespace-split, non-comment, non-blank line
// per the token grammar:
//
//	Capacity:   ts # bytes
//	Arrival:    ts + bytes [flow_id]
//	Departure:  ts - bytes delay_ms [flow_id]
func parseLine(fields []string) (types.Event, error) {
	if len(fields) < 3 {
		return types.Event{}, fmt.Errorf("want at least 3 tokens, got %d", len(fields))
	}

	ts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return types.Event{}, fmt.Errorf("bad timestamp %q: %w", fields[0], err)
	}

	bytesN, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return types.Event{}, fmt.Errorf("bad byte count %q: %w", fields[2], err)
	}
	bits := bytesN * 8

	switch fields[1] {
	case "#":
		if len(fields) != 3 {
			return types.Event{}, fmt.Errorf("capacity event wants 3 tokens, got %d", len(fields))
		}
		return types.Event{TimestampMs: ts, Kind: types.Capacity, Bits: bits}, nil

	case "+":
		flowID := uint32(0)
		switch len(fields) {
		case 3:
			// no flow id — default 0
		case 4:
			id, err := strconv.ParseUint(fields[3], 10, 32)
			if err != nil {
				return types.Event{}, fmt.Errorf("bad flow id %q: %w", fields[3], err)
			}
			flowID = uint32(id)
		default:
			return types.Event{}, fmt.Errorf("arrival event wants 3 or 4 tokens, got %d", len(fields))
		}
		return types.Event{TimestampMs: ts, Kind: types.Arrival, Bits: bits, FlowID: flowID}, nil

	case "-":
		if len(fields) < 4 {
			return types.Event{}, fmt.Errorf("departure event wants 4 or 5 tokens, got %d", len(fields))
		}
		delay, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return types.Event{}, fmt.Errorf("bad delay %q: %w", fields[3], err)
		}
		flowID := uint32(0)
		switch len(fields) {
		case 4:
			// no flow id — default 0
		case 5:
			id, err := strconv.ParseUint(fields[4], 10, 32)
			if err != nil {
				return types.Event{}, fmt.Errorf("bad flow id %q: %w", fields[4], err)
			}
			flowID = uint32(id)
		default:
			return types.Event{}, fmt.Errorf("departure event wants 4 or 5 tokens, got %d", len(fields))
		}
		return types.Event{
			TimestampMs: ts,
			Kind:        types.Departure,
			Bits:        bits,
			FlowID:      flowID,
			DelayMs:     delay,
			HasDelay:    true,
		}, nil

	default:
		return types.Event{}, fmt.Errorf("unknown event kind %q", fields[1])
	}
}
