package checker

import (
	"errors"
	"fmt"
	"os"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// findOrphans returns the empty segments numbered after the last segment
// that holds records. No RIDX entry can point into them, so deleting them
// loses nothing; the log continues in the previous segment. The first
// segment is never an orphan.
func findOrphans(segs []storage.SegmentInfo, res *storage.ScanResult, empty map[storage.SegmentNo]bool) []storage.SegmentInfo {
	if len(segs) < 2 {
		return nil
	}
	last := segs[0].No
	for _, s := range segs {
		if res.RecordsPerSegment[s.No] > 0 {
			last = s.No
		}
	}

	var orphans []storage.SegmentInfo
	for _, s := range segs[1:] {
		if s.No > last && empty[s.No] {
			orphans = append(orphans, s)
		}
	}
	return orphans
}

func orphanFinding(s storage.SegmentInfo) Finding {
	return Finding{
		Kind:    KindOrphan,
		Segment: s.No,
		Detail:  fmt.Sprintf("segment %d (%s) is empty and unreferenced; safe to delete", s.No, s.Path),
		Warning: true,
	}
}

// removeOrphans deletes orphan segments, newest first so that a failure
// never leaves a hole in the segment numbering.
func removeOrphans(orphans []storage.SegmentInfo) ([]storage.SegmentInfo, error) {
	var removed []storage.SegmentInfo
	for i := len(orphans) - 1; i >= 0; i-- {
		s := orphans[i]
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove orphan segment %d: %w", s.No, err)
		}
		removed = append(removed, s)
	}
	return removed, nil
}
