package storage

import (
	"encoding/binary"
	"os"
	"testing"
)

func scanAll(t *testing.T, env *testLogEnv) (*ScanResult, []ScannedRecord, []ScanAnomaly) {
	t.Helper()
	segs, err := FindSegments(env.dir, env.name)
	if err != nil {
		t.Fatal(err)
	}
	var (
		recs      []ScannedRecord
		anomalies []ScanAnomaly
		segCalls  int
	)
	res, err := ScanRecords(env.name, segs, ScanVisitor{
		Segment: func(*Segment) error { segCalls++; return nil },
		Record:  func(r ScannedRecord) error { recs = append(recs, r); return nil },
		Anomaly: func(a ScanAnomaly) { anomalies = append(anomalies, a) },
	})
	if err != nil {
		t.Fatalf("ScanRecords failed: %v", err)
	}
	if segCalls != len(segs) {
		t.Errorf("segment callback ran %d times for %d segments", segCalls, len(segs))
	}
	return res, recs, anomalies
}

func TestScanRecords_MatchesIndex(t *testing.T) {
	env := newTestLogEnv(t)
	l := env.create(t, DefaultPolicy(), DefaultLogOptions())
	appendPayloads(t, l, "a", "bb", "ccc")
	l.NewSegment()
	appendPayloads(t, l, "dddd")

	var want []RecnoEntry
	for r := Recno(1); r <= 4; r++ {
		e, err := l.ridx.Read(r, l.policy)
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, e)
	}
	l.Close()

	res, recs, anomalies := scanAll(t, env)
	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies: %v", anomalies)
	}
	if res.Records != 4 || res.MaxRecno != 4 || res.FirstRecno != 1 || res.Segments != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.RecordsPerSegment[0] != 3 || res.RecordsPerSegment[1] != 1 {
		t.Errorf("per segment counts %v", res.RecordsPerSegment)
	}
	for i, r := range recs {
		if r.Recno != want[i].Recno || r.Offset != want[i].Offset || r.Segment != want[i].Segment {
			t.Errorf("scanned %+v, index says %+v", r, want[i])
		}
	}
}

func TestScanRecords_GapsAndDuplicates(t *testing.T) {
	env := newTestLogEnv(t)
	l := env.create(t, DurabilityPolicy{AllowGaps: true, AllowDuplicates: true}, DefaultLogOptions())
	appendPayloads(t, l, "1", "2")
	l.Append(&Record{Recno: 5, Payload: []byte("5")})
	l.Append(&Record{Recno: 2, Payload: []byte("2 again")})
	l.Close()

	res, recs, anomalies := scanAll(t, env)
	if len(anomalies) != 2 {
		t.Fatalf("anomalies = %v, want a gap and a duplicate", anomalies)
	}
	if anomalies[0].Kind != AnomalyGap || anomalies[0].Recno != 5 || anomalies[0].Expected != 3 {
		t.Errorf("first anomaly %+v", anomalies[0])
	}
	if anomalies[1].Kind != AnomalyDuplicate || anomalies[1].Recno != 2 {
		t.Errorf("second anomaly %+v", anomalies[1])
	}
	if !recs[3].Duplicate {
		t.Error("rewritten record should be flagged as duplicate")
	}
	if res.MaxRecno != 5 || res.Anomalies != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestScanRecords_TruncatedTail(t *testing.T) {
	env := newTestLogEnv(t)
	l := env.create(t, DefaultPolicy(), DefaultLogOptions())
	appendPayloads(t, l, "one", "two", "three")
	path := l.last.Path()
	size := l.last.Size()
	l.Close()

	if err := os.Truncate(path, size-2); err != nil {
		t.Fatal(err)
	}

	res, recs, anomalies := scanAll(t, env)
	if len(recs) != 2 {
		t.Errorf("scanned %d complete records, want 2", len(recs))
	}
	if len(anomalies) != 1 || anomalies[0].Kind != AnomalyTruncated || anomalies[0].Recno != 3 {
		t.Errorf("anomalies = %v", anomalies)
	}
	if res.MaxRecno != 2 {
		t.Errorf("MaxRecno = %d", res.MaxRecno)
	}
}

func TestScanRecords_Empty(t *testing.T) {
	env := newTestLogEnv(t)
	l := env.create(t, DefaultPolicy(), DefaultLogOptions())
	l.Close()

	res, recs, anomalies := scanAll(t, env)
	if len(recs) != 0 || len(anomalies) != 0 || res.MaxRecno != 0 {
		t.Errorf("empty log scanned as %+v", res)
	}
}

// setRecnoOffset rewrites the recno_offset field of a segment header.
func setRecnoOffset(t *testing.T, path string, offset Recno) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))
	if _, err := f.WriteAt(buf[:], 64); err != nil {
		t.Fatal(err)
	}
}

func TestScanRecords_SegmentHeaderDisagreesWithData(t *testing.T) {
	env := newTestLogEnv(t)
	l := env.create(t, DefaultPolicy(), DefaultLogOptions())
	appendPayloads(t, l, "a", "b", "c")
	l.NewSegment()
	appendPayloads(t, l, "d")
	path := l.last.Path()
	l.Close()

	setRecnoOffset(t, path, 1)

	res, recs, anomalies := scanAll(t, env)
	if len(recs) != 4 || res.MaxRecno != 4 {
		t.Errorf("scanned %d records up to %d", len(recs), res.MaxRecno)
	}
	if len(anomalies) != 1 {
		t.Fatalf("anomalies = %v, want one", anomalies)
	}
	a := anomalies[0]
	if a.Kind != AnomalySegmentOffset || a.Segment != 1 || a.Recno != 0 || a.Expected != 4 {
		t.Errorf("anomaly %+v", a)
	}
}

func TestScanRecords_RecordBelowSegmentOffset(t *testing.T) {
	env := newTestLogEnv(t)
	l := env.create(t, DefaultPolicy(), DefaultLogOptions())
	appendPayloads(t, l, "1", "2")
	l.Close()

	seg, err := CreateSegment(env.dir, env.name, 1, 5, NewMetadata())
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []Recno{3, 6} {
		if _, err := seg.Append(&Record{Recno: n, Timestamp: Timestamp{Sec: int64(n)}}); err != nil {
			t.Fatal(err)
		}
	}
	seg.Close()

	_, _, anomalies := scanAll(t, env)
	if len(anomalies) != 3 {
		t.Fatalf("anomalies = %v, want header, record 3 and gap", anomalies)
	}
	if a := anomalies[0]; a.Kind != AnomalySegmentOffset || a.Recno != 0 || a.Expected != 3 {
		t.Errorf("header anomaly %+v", a)
	}
	if a := anomalies[1]; a.Kind != AnomalySegmentOffset || a.Recno != 3 {
		t.Errorf("record anomaly %+v", a)
	}
	if a := anomalies[2]; a.Kind != AnomalyGap || a.Recno != 6 || a.Expected != 4 {
		t.Errorf("gap anomaly %+v", a)
	}
}

func TestScanRecords_RetiredPrefixIsConsistent(t *testing.T) {
	env := newTestLogEnv(t)
	l := env.create(t, DefaultPolicy(), DefaultLogOptions())
	appendPayloads(t, l, "a", "b")
	l.NewSegment()
	appendPayloads(t, l, "c")
	l.NewSegment()
	appendPayloads(t, l, "d")
	if n, err := l.Retire(3); err != nil || n != 1 {
		t.Fatalf("Retire = %d, %v", n, err)
	}
	l.Close()

	res, _, anomalies := scanAll(t, env)
	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies: %v", anomalies)
	}
	if res.FirstRecnoOffset != 2 || res.FirstRecno != 3 {
		t.Errorf("unexpected result %+v", res)
	}
}
