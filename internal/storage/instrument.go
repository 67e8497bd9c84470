package storage

// =============================================================================
// METRICS INTEGRATION
// =============================================================================
//
// The storage engine reports through the global metrics registry. Every
// helper is a no-op until metrics.Init has been called, so tests and the
// checker run without a registry.
//
// =============================================================================

import (
	"errors"
	"time"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/metrics"
)

func storageMetrics() *metrics.StorageMetrics {
	r := metrics.Get()
	if r == nil {
		return nil
	}
	return r.Storage
}

func instrumentWrite(n int) {
	storageMetrics().RecordWrite(n)
}

func instrumentRead(n int) {
	storageMetrics().RecordRead(n)
}

func instrumentFsync(d time.Duration, err error) {
	storageMetrics().RecordFsync(d.Seconds(), err)
}

func instrumentIndexLookup(index string, d time.Duration) {
	storageMetrics().RecordIndexLookup(index, d.Seconds())
}

func instrumentAppend(err error, stage string) {
	storageMetrics().RecordAppend(stage, err)
}

func instrumentReadResult(err error) {
	storageMetrics().RecordReadResult(readResult(err))
}

func instrumentSegmentCreated() {
	storageMetrics().RecordSegmentCreated()
}

func instrumentSegmentsRetired(n int) {
	storageMetrics().RecordSegmentsRetired(n)
}

func instrumentSegmentsOpen(delta int) {
	storageMetrics().AddSegmentsOpen(delta)
}

func instrumentLogsOpen(delta int) {
	storageMetrics().AddLogsOpen(delta)
}

func instrumentTimeIndexDisabled() {
	storageMetrics().RecordTimeIndexDisabled()
}

// readResult maps a read error onto a low-cardinality label.
func readResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRecordMissing):
		return "missing"
	case errors.Is(err, ErrRecordExpired):
		return "expired"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCorruptIndex):
		return "corrupt_index"
	}
	return "error"
}
