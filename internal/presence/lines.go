package presence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/geoattend/internal/attendance"
)

// SourceLines names events read by LineReader.
const SourceLines = "lines"

// LineEvent is the JSON form of one event:
//
//	{"kind":"zone_enter","zone_id":"office"}
//	{"kind":"zone_exit","zone_id":"office","at":"2025-01-06T17:00:00Z"}
type LineEvent struct {
	Kind   string     `json:"kind" validate:"required,oneof=zone_enter zone_exit manual_check_in permission_lost"`
	ZoneID string     `json:"zone_id,omitempty" validate:"omitempty,max=128,printascii"`
	At     *time.Time `json:"at,omitempty"`
}

// Event converts a validated LineEvent.
func (l LineEvent) Event(source string) (attendance.Event, error) {
	kind, err := attendance.ParseEventKind(l.Kind)
	if err != nil {
		return attendance.Event{}, err
	}
	ev := attendance.Event{Kind: kind, ZoneID: l.ZoneID, Source: source}
	if l.At != nil {
		ev.At = l.At.UTC()
	}
	return ev, nil
}

// LineReader decodes JSON-lines events.
type LineReader struct {
	validate *validator.Validate
	logger   *slog.Logger
	source   string
}

// NewLineReader returns a reader tagging events with source (SourceLines if empty).
func NewLineReader(source string, logger *slog.Logger) *LineReader {
	if source == "" {
		source = SourceLines
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LineReader{
		validate: validator.New(),
		logger:   logger.With("component", "presence_lines"),
		source:   source,
	}
}

// Parse decodes and validates a single line.
func (r *LineReader) Parse(line []byte) (attendance.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()

	var le LineEvent
	if err := dec.Decode(&le); err != nil {
		return attendance.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := r.validate.Struct(le); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]string, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			return attendance.Event{}, fmt.Errorf("invalid event: %s", strings.Join(fields, ", "))
		}
		return attendance.Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return le.Event(r.source)
}

// Stats counts what Forward did.
type Stats struct {
	Accepted int
	Rejected int
}

// Forward reads lines from in until EOF or ctx is cancelled, forwarding
// valid events to sink. Blank lines and lines starting with '#' are
// ignored; invalid lines are logged and counted.
func (r *LineReader) Forward(ctx context.Context, in io.Reader, sink Sink) (Stats, error) {
	var st Stats
	sc := bufio.NewScanner(in)
	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		ev, err := r.Parse(line)
		if err != nil {
			st.Rejected++
			r.logger.Warn("event line rejected", "line", lineNo, "error", err)
			continue
		}
		if !sink.Enqueue(ev) {
			return st, errors.New("forward events: sink closed")
		}
		st.Accepted++
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("forward events: %w", err)
	}
	return st, nil
}
