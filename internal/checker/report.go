package checker

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// Mode selects what a run does to a log.
type Mode string

const (
	// ModeCheck compares the indices against the data and changes nothing.
	ModeCheck Mode = "check"

	// ModeRebuild regenerates the indices from the data.
	ModeRebuild Mode = "rebuild"
)

// Outcome is the one-word verdict for a log.
type Outcome string

const (
	OutcomeOK           Outcome = "OK"
	OutcomeInconsistent Outcome = "INCONSISTENT"
	OutcomeNoChanges    Outcome = "NO CHANGES"
	OutcomeRebuilt      Outcome = "REBUILT"
	OutcomeFailed       Outcome = "FAILED"
	OutcomeError        Outcome = "ERROR"
)

// Failed reports whether the outcome makes the checker exit non-zero.
func (o Outcome) Failed() bool {
	return o == OutcomeInconsistent || o == OutcomeFailed || o == OutcomeError
}

// Kind names an inconsistency.
type Kind string

const (
	KindRidxRecno     Kind = "ridx recno inconsistency"
	KindRidxSegment   Kind = "ridx segment inconsistency"
	KindRidxOffset    Kind = "ridx offset inconsistency"
	KindRidxMissing   Kind = "ridx missing entry"
	KindRidxExtra     Kind = "ridx entry beyond data"
	KindRidxAbsent    Kind = "ridx missing"
	KindTidxMissing   Kind = "tidx missing entry"
	KindTidxRecno     Kind = "tidx recno inconsistency"
	KindGap           Kind = "gap"
	KindDuplicate     Kind = "duplicate"
	KindTruncated     Kind = "truncated"
	KindCorruptData   Kind = "corrupt record"
	KindSegmentOffset Kind = "segment offset inconsistency"
	KindOrphan        Kind = "orphan segment"
	KindOrphanRemove  Kind = "orphan removed"
)

// Finding is one observation about a log.
type Finding struct {
	Kind    Kind
	Recno   storage.Recno
	Segment storage.SegmentNo

	// Expected is what the data says; Actual is what the index says.
	Expected string
	Actual   string
	Detail   string

	// Warning findings are reported but do not change the outcome.
	Warning bool
}

func (f Finding) String() string {
	s := string(f.Kind)
	if f.Recno != 0 {
		s += fmt.Sprintf(": record %d (segment %d)", f.Recno, f.Segment)
	}
	if f.Expected != "" || f.Actual != "" {
		s += fmt.Sprintf(": expected %s, got %s", f.Expected, f.Actual)
	}
	if f.Detail != "" {
		s += ": " + f.Detail
	}
	return s
}

// dataError reports whether the finding describes damaged data rather than
// a stale index.
func (f Finding) dataError() bool {
	switch f.Kind {
	case KindTruncated, KindCorruptData, KindSegmentOffset:
		return true
	}
	return false
}

// Report is the result of checking or rebuilding one log.
type Report struct {
	// Input is the name as given on the command line.
	Input string
	Log   storage.Name
	Mode  Mode

	Outcome  Outcome
	Err      error
	Duration time.Duration

	Segments int
	Records  int
	MaxRecno storage.Recno

	Findings []Finding

	// Replaced maps each installed index file to its backup.
	Replaced map[string]string
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

// Inconsistencies counts findings that are not warnings.
func (r *Report) Inconsistencies() int {
	n := 0
	for _, f := range r.Findings {
		if !f.Warning {
			n++
		}
	}
	return n
}

// DataErrors counts findings about damaged segment data.
func (r *Report) DataErrors() int {
	n := 0
	for _, f := range r.Findings {
		if f.dataError() {
			n++
		}
	}
	return n
}

// WriteTo prints the report in the checker's human-readable form.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	name := r.Input
	if printable := r.Log.String(); name != printable {
		name = fmt.Sprintf("%s (%s)", printable, r.Input)
	}
	fmt.Fprintf(cw, "log %s\n", name)
	if r.Segments > 0 {
		fmt.Fprintf(cw, "  segments: %d  records: %d  max recno: %d\n", r.Segments, r.Records, r.MaxRecno)
	}
	for _, f := range r.Findings {
		prefix := "  "
		if f.Warning {
			prefix = "  warning: "
		}
		fmt.Fprintf(cw, "%s%s\n", prefix, f)
	}
	if len(r.Replaced) > 0 {
		files := make([]string, 0, len(r.Replaced))
		for f := range r.Replaced {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			if bak := r.Replaced[f]; bak != "" {
				fmt.Fprintf(cw, "  replaced %s (previous kept as %s)\n", f, bak)
			} else {
				fmt.Fprintf(cw, "  installed %s\n", f)
			}
		}
	}
	if r.Err != nil {
		fmt.Fprintf(cw, "  error: %v\n", r.Err)
	}
	switch {
	case r.Outcome == OutcomeOK:
		fmt.Fprintf(cw, "  looks OK (%s)\n", r.Duration.Round(time.Millisecond))
	default:
		fmt.Fprintf(cw, "  result: %s (%s)\n", r.Outcome, r.Duration.Round(time.Millisecond))
	}
	return cw.n, cw.err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// ExitCode is 1 if any report failed or found damaged data, 0 otherwise.
func ExitCode(reports []*Report) int {
	for _, r := range reports {
		if r.Outcome.Failed() || r.DataErrors() > 0 {
			return 1
		}
	}
	return 0
}
