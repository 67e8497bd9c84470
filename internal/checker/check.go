package checker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// check compares the installed indices against a scan of the segments.
// Nothing on disk is modified.
func (c *Checker) check(r *Report, logger *slog.Logger) {
	dir := c.logDir(r.Log)
	segs, err := findSegments(dir, r.Log)
	if err != nil {
		r.Outcome, r.Err = OutcomeError, err
		return
	}

	ridx, err := openRidxMap(storage.RidxPath(dir, r.Log))
	switch {
	case err == nil:
		defer ridx.Close()
	case errors.Is(err, storage.ErrNotFound):
		r.add(Finding{Kind: KindRidxAbsent, Detail: storage.RidxPath(dir, r.Log)})
		ridx = nil
	default:
		r.Outcome, r.Err = OutcomeError, err
		return
	}

	tidx, err := storage.OpenTimeIndex(storage.TidxPath(dir, r.Log), true)
	switch {
	case err == nil:
		defer tidx.Close()
	case errors.Is(err, storage.ErrNotFound):
		logger.Info("log has no timestamp index")
		tidx = nil
	default:
		r.Outcome, r.Err = OutcomeError, err
		return
	}

	cmp := newComparator(ridx, tidx)
	empty := make(map[storage.SegmentNo]bool)
	res, err := storage.ScanRecords(r.Log, segs, storage.ScanVisitor{
		Segment: func(seg *storage.Segment) error {
			empty[seg.Number()] = seg.IsEmpty()
			return nil
		},
		Record:  cmp.record,
		Anomaly: func(a storage.ScanAnomaly) { r.add(findingForAnomaly(a)) },
	})
	r.fill(res)
	if err != nil {
		r.Outcome, r.Err = OutcomeError, err
		return
	}

	r.Findings = append(r.Findings, cmp.findings(res.MaxRecno)...)
	for _, o := range findOrphans(segs, res, empty) {
		r.add(orphanFinding(o))
	}

	if r.Inconsistencies() > 0 {
		r.Outcome = OutcomeInconsistent
	} else {
		r.Outcome = OutcomeOK
	}
}

// findSegments is storage.FindSegments that also treats a directory with no
// segment files as a missing log.
func findSegments(dir string, name storage.Name) ([]storage.SegmentInfo, error) {
	segs, err := storage.FindSegments(dir, name)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: no segments in %s", storage.ErrNotFound, dir)
	}
	return segs, nil
}

func (r *Report) fill(res *storage.ScanResult) {
	if res == nil {
		return
	}
	r.Segments = res.Segments
	r.Records = res.Records
	r.MaxRecno = res.MaxRecno
}

// comparator holds index findings until the scan is over. A record number
// or timestamp written twice is judged by its last occurrence only, since
// that is the one the indices point at.
type comparator struct {
	ridx *ridxMap
	tidx *storage.TimeIndex

	byRecno map[storage.Recno][]Finding
	byTime  map[string]Finding
}

func newComparator(ridx *ridxMap, tidx *storage.TimeIndex) *comparator {
	return &comparator{
		ridx:    ridx,
		tidx:    tidx,
		byRecno: make(map[storage.Recno][]Finding),
		byTime:  make(map[string]Finding),
	}
}

func (c *comparator) record(rec storage.ScannedRecord) error {
	if c.ridx != nil {
		delete(c.byRecno, rec.Recno)
		if fs := c.compareRidx(rec); len(fs) > 0 {
			c.byRecno[rec.Recno] = fs
		}
	}
	if c.tidx != nil {
		key := string(storage.EncodeTidxKey(rec.Timestamp))
		delete(c.byTime, key)
		f, err := c.compareTidx(rec)
		if err != nil {
			return err
		}
		if f != nil {
			c.byTime[key] = *f
		}
	}
	return nil
}

func (c *comparator) compareRidx(rec storage.ScannedRecord) []Finding {
	e, ok := c.ridx.Slot(rec.Recno)
	if !ok || e.IsHole() {
		actual := "no slot"
		if ok {
			actual = "a hole"
		}
		return []Finding{{
			Kind: KindRidxMissing, Recno: rec.Recno, Segment: rec.Segment,
			Expected: fmt.Sprintf("offset %d", rec.Offset), Actual: actual,
		}}
	}

	var fs []Finding
	if e.Recno != rec.Recno {
		fs = append(fs, Finding{
			Kind: KindRidxRecno, Recno: rec.Recno, Segment: rec.Segment,
			Expected: fmt.Sprint(rec.Recno), Actual: fmt.Sprint(e.Recno),
		})
	}
	if e.Segment != rec.Segment {
		fs = append(fs, Finding{
			Kind: KindRidxSegment, Recno: rec.Recno, Segment: rec.Segment,
			Expected: fmt.Sprint(rec.Segment), Actual: fmt.Sprint(e.Segment),
		})
	}
	if e.Offset != rec.Offset {
		fs = append(fs, Finding{
			Kind: KindRidxOffset, Recno: rec.Recno, Segment: rec.Segment,
			Expected: fmt.Sprint(rec.Offset), Actual: fmt.Sprint(e.Offset),
		})
	}
	return fs
}

func (c *comparator) compareTidx(rec storage.ScannedRecord) (*Finding, error) {
	got, err := c.tidx.Get(rec.Timestamp)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return &Finding{
			Kind: KindTidxMissing, Recno: rec.Recno, Segment: rec.Segment,
			Detail: "no entry for " + rec.Timestamp.String(),
		}, nil
	case err != nil:
		return nil, fmt.Errorf("tidx lookup for record %d: %w", rec.Recno, err)
	case got != rec.Recno:
		return &Finding{
			Kind: KindTidxRecno, Recno: rec.Recno, Segment: rec.Segment,
			Expected: fmt.Sprint(rec.Recno), Actual: fmt.Sprint(got),
			Detail: "at " + rec.Timestamp.String(),
		}, nil
	}
	return nil, nil
}

// findings returns the held findings in record order, plus one for any
// RIDX slots past the last scanned record.
func (c *comparator) findings(maxScanned storage.Recno) []Finding {
	var out []Finding
	for _, fs := range c.byRecno {
		out = append(out, fs...)
	}
	for _, f := range c.byTime {
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Recno != out[j].Recno {
			return out[i].Recno < out[j].Recno
		}
		return out[i].Kind < out[j].Kind
	})

	if c.ridx != nil {
		first := maxScanned + 1
		if first < c.ridx.minRecno {
			first = c.ridx.minRecno
		}
		extra := 0
		for recno := first; recno <= c.ridx.MaxRecno(); recno++ {
			if e, ok := c.ridx.Slot(recno); ok && !e.IsHole() {
				extra++
			}
		}
		if extra > 0 {
			out = append(out, Finding{
				Kind:   KindRidxExtra,
				Detail: fmt.Sprintf("%d entries after record %d (ridx ends at %d)", extra, maxScanned, c.ridx.MaxRecno()),
			})
		}
	}
	return out
}
