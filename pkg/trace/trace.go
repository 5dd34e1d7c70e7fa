// Package trace persists the schedule of one exploration iteration: the
// ordered sequence of decisions the strategy made. A saved schedule is
// enough to replay the iteration deterministically.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// Kind classifies a strategy decision.
type Kind uint8

const (
	KindSchedule Kind = iota + 1
	KindBool
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindSchedule:
		return "schedule"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	default:
		return "unknown"
	}
}

// Decision is a single strategy choice. For schedule decisions OpID and
// Op identify the operation resumed; for nondeterministic choices Value
// carries the returned value (0/1 for booleans).
type Decision struct {
	Step  int    `json:"step"`
	Kind  Kind   `json:"kind"`
	OpID  uint64 `json:"opid"`
	Op    string `json:"op,omitempty"`
	Value int64  `json:"value,omitempty"`
}

// Header identifies the run a schedule came from.
type Header struct {
	RunID     string `json:"runid"`
	Strategy  string `json:"strategy"`
	Seed      int64  `json:"seed"`
	Iteration int    `json:"iteration"`
}

// Schedule is one iteration's worth of decisions plus its identity.
type Schedule struct {
	Header    Header
	Decisions []Decision
}

// New returns an empty schedule with a fresh run id.
func New(strategy string, seed int64, iteration int) *Schedule {
	return &Schedule{Header: Header{
		RunID:     uuid.NewString(),
		Strategy:  strategy,
		Seed:      seed,
		Iteration: iteration,
	}}
}

// Append records one decision.
func (s *Schedule) Append(d Decision) {
	s.Decisions = append(s.Decisions, d)
}

// Save writes the schedule to a JSON-lines file: one header line followed
// by one line per decision.
func Save(filename string, s *Schedule) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create schedule file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	if err := enc.Encode(s.Header); err != nil {
		return fmt.Errorf("failed to encode schedule header: %w", err)
	}
	for _, d := range s.Decisions {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to encode decision: %w", err)
		}
	}
	return w.Flush()
}

// Load reads a schedule from a JSON-lines file.
func Load(filename string) (*Schedule, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open schedule file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	var s Schedule
	if err := dec.Decode(&s.Header); err != nil {
		return nil, fmt.Errorf("failed to decode schedule header: %w", err)
	}
	for dec.More() {
		var d Decision
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("failed to decode decision: %w", err)
		}
		s.Decisions = append(s.Decisions, d)
	}
	return &s, nil
}

// Summarize prints a human-readable context-switch summary of the
// schedule, one line per scheduling decision.
func Summarize(w io.Writer, s *Schedule) {
	fmt.Fprintf(w, "run %s: %s iteration %d\n", s.Header.RunID, s.Header.Strategy, s.Header.Iteration)
	for _, d := range s.Decisions {
		switch d.Kind {
		case KindSchedule:
			fmt.Fprintf(w, "CONTEXT_SWITCH: Scheduled: %s\n", d.Op)
		case KindBool:
			fmt.Fprintf(w, "CHOICE: bool %v at step %d\n", d.Value != 0, d.Step)
		case KindInt:
			fmt.Fprintf(w, "CHOICE: int %d at step %d\n", d.Value, d.Step)
		}
	}
}
