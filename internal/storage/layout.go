package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// DIRECTORY LAYOUT
// =============================================================================
//
//	<root>/
//	  .gdplogd.lock
//	  _3f/                                  <- first byte of the name, hex
//	    P3mK...43 chars.../                 <- one directory per log
//	      P3mK...-000000.gdplog             <- numbered segments
//	      P3mK...-000001.gdplog
//	      P3mK....gdpndx                    <- RIDX
//	      P3mK....gdptidx                   <- TIDX (boltdb)
//
// Legacy logs keep their records in "<pname>.gdplog" (segment -1).
// =============================================================================

const (
	segmentSuffix = ".gdplog"
	ridxSuffix    = ".gdpndx"
	tidxSuffix    = ".gdptidx"

	// LockFileName guards a data root against concurrent daemons.
	LockFileName = ".gdplogd.lock"
)

// LogDir returns the directory that holds all files of one log.
func LogDir(root string, name Name) string {
	return filepath.Join(root, fmt.Sprintf("_%02x", name[0]), name.String())
}

// SegmentFileName returns the file name of a segment.
func SegmentFileName(name Name, no SegmentNo) string {
	if no == LegacySegment {
		return name.String() + segmentSuffix
	}
	return fmt.Sprintf("%s-%06d%s", name.String(), no, segmentSuffix)
}

// RidxPath returns the path of the record-number index.
func RidxPath(dir string, name Name) string {
	return filepath.Join(dir, name.String()+ridxSuffix)
}

// TidxPath returns the path of the timestamp index.
func TidxPath(dir string, name Name) string {
	return filepath.Join(dir, name.String()+tidxSuffix)
}

// SegmentInfo describes a segment file found on disk.
type SegmentInfo struct {
	No   SegmentNo
	Path string
	Size int64
}

// FindSegments lists the segments of a log in ascending order. Both the
// legacy single-file name and numbered names are recognised; a rotated
// legacy log has both, with the legacy file first. A missing directory is
// ErrNotFound.
func FindSegments(dir string, name Name) ([]SegmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: log directory %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}

	prefix := name.String()
	var segs []SegmentInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		no, ok := parseSegmentFileName(prefix, e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat segment %s: %w", e.Name(), err)
		}
		segs = append(segs, SegmentInfo{
			No:   no,
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].No < segs[j].No })
	return segs, nil
}

func parseSegmentFileName(prefix, file string) (SegmentNo, bool) {
	if !strings.HasPrefix(file, prefix) || !strings.HasSuffix(file, segmentSuffix) {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(file, prefix), segmentSuffix)
	if mid == "" {
		return LegacySegment, true
	}
	if mid[0] != '-' {
		return 0, false
	}
	n, err := strconv.ParseInt(mid[1:], 10, 32)
	if err != nil || n < 0 {
		return 0, false
	}
	return SegmentNo(n), true
}
