// =============================================================================
// TIMESTAMP INDEX (TIDX) - TIME → RECORD NUMBER
// =============================================================================
//
// WHAT IS IT?
// An ordered map from commit timestamp to record number, kept in a boltdb
// file next to the RIDX. It answers "which record was current at 15:04?".
//
// WHY A B+TREE AND NOT A FLAT FILE LIKE THE RIDX?
// Record numbers are dense, timestamps are not. A B+tree gives both exact
// lookups and "first key >= t" (Cursor.Seek) without scanning.
//
// KEY ENCODING:
//   {sec:i64 big-endian}{nsec:i32 big-endian}
//   For non-negative times, byte order == chronological order, which is the
//   order bolt keeps keys in.
//
// OPTIONALITY:
//   The index is an accelerator, not a source of truth:
//     - A missing file means "no timestamp index" (older logs).
//     - After a severe write failure the log may close it, rename the file
//       aside and keep appending without it.
//     - The checker can always rebuild it from the segments.
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var tidxBucket = []byte("tidx")

// tidxOpenTimeout bounds how long opening waits for bolt's file lock.
const tidxOpenTimeout = time.Second

// TimeIndexEntry is one timestamp → record number mapping.
type TimeIndexEntry struct {
	Timestamp Timestamp
	Recno     Recno
}

// TimeIndex is an open TIDX file.
type TimeIndex struct {
	path     string
	readOnly bool

	// mu serializes access to db; bolt allows one writer anyway, but Close
	// must not race an in-flight Put.
	mu sync.Mutex
	db *bolt.DB
}

// CreateTimeIndex creates a new, empty TIDX. It fails with ErrConflict if
// the file exists.
func CreateTimeIndex(path string) (*TimeIndex, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: tidx %s already exists", ErrConflict, path)
	}
	return openTimeIndex(path, false)
}

// OpenTimeIndex opens an existing TIDX. A missing file is ErrNotFound,
// which callers treat as "no timestamp index".
func OpenTimeIndex(path string, readOnly bool) (*TimeIndex, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: tidx %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat tidx: %w", err)
	}
	return openTimeIndex(path, readOnly)
}

func openTimeIndex(path string, readOnly bool) (*TimeIndex, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{
		Timeout:  tidxOpenTimeout,
		ReadOnly: readOnly,
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: tidx %s is locked by another process", ErrConflict, path)
		}
		return nil, fmt.Errorf("failed to open tidx %s: %w", path, err)
	}

	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(tidxBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize tidx %s: %w", path, err)
		}
	}

	return &TimeIndex{path: path, readOnly: readOnly, db: db}, nil
}

// Path returns the index file path.
func (t *TimeIndex) Path() string { return t.path }

// Put inserts or overwrites the mapping for ts.
func (t *TimeIndex) Put(ts Timestamp, recno Recno) error {
	return t.PutBatch([]TimeIndexEntry{{Timestamp: ts, Recno: recno}})
}

// PutBatch writes several mappings in one transaction.
func (t *TimeIndex) PutBatch(entries []TimeIndexEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.db == nil {
		return ErrLogClosed
	}
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tidxBucket)
		if b == nil {
			return fmt.Errorf("%w: tidx bucket missing", ErrCorruptIndex)
		}
		for _, e := range entries {
			if err := b.Put(EncodeTidxKey(e.Timestamp), EncodeTidxValue(e.Recno)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the record number stored for exactly ts.
func (t *TimeIndex) Get(ts Timestamp) (Recno, error) {
	var recno Recno
	err := t.view(func(b *bolt.Bucket) error {
		v := b.Get(EncodeTidxKey(ts))
		if v == nil {
			return fmt.Errorf("%w: no tidx entry for %s", ErrNotFound, ts)
		}
		var err error
		recno, err = DecodeTidxValue(v)
		return err
	})
	return recno, err
}

// FirstAtOrAfter returns the smallest key >= ts and its record number.
// ErrNotFound means ts is after the newest entry.
func (t *TimeIndex) FirstAtOrAfter(ts Timestamp) (Timestamp, Recno, error) {
	var (
		found Timestamp
		recno Recno
	)
	err := t.view(func(b *bolt.Bucket) error {
		k, v := b.Cursor().Seek(EncodeTidxKey(ts))
		if k == nil {
			return fmt.Errorf("%w: no tidx entry at or after %s", ErrNotFound, ts)
		}
		var err error
		if found, err = DecodeTidxKey(k); err != nil {
			return err
		}
		recno, err = DecodeTidxValue(v)
		return err
	})
	return found, recno, err
}

// Lookup returns the record that was current at ts: the entry for ts itself,
// else the newest entry before ts. If ts precedes every entry, the first
// entry is returned. ErrNotFound means ts is after the newest entry.
func (t *TimeIndex) Lookup(ts Timestamp) (Recno, error) {
	start := time.Now()
	defer func() { instrumentIndexLookup("tidx", time.Since(start)) }()

	var recno Recno
	err := t.view(func(b *bolt.Bucket) error {
		key := EncodeTidxKey(ts)
		c := b.Cursor()
		k, v := c.Seek(key)
		if k == nil {
			return fmt.Errorf("%w: %s is after the newest record", ErrNotFound, ts)
		}
		if string(k) != string(key) {
			if pk, pv := c.Prev(); pk != nil {
				v = pv
			}
		}
		var err error
		recno, err = DecodeTidxValue(v)
		return err
	})
	return recno, err
}

// ForEach visits every entry in timestamp order.
func (t *TimeIndex) ForEach(fn func(TimeIndexEntry) error) error {
	return t.view(func(b *bolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			ts, err := DecodeTidxKey(k)
			if err != nil {
				return err
			}
			recno, err := DecodeTidxValue(v)
			if err != nil {
				return err
			}
			return fn(TimeIndexEntry{Timestamp: ts, Recno: recno})
		})
	})
}

// view runs fn in a read transaction. A read-only file without the bucket
// behaves as an empty index.
func (t *TimeIndex) view(fn func(b *bolt.Bucket) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.db == nil {
		return ErrLogClosed
	}
	return t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tidxBucket)
		if b == nil {
			return fmt.Errorf("%w: tidx %s is empty", ErrNotFound, t.path)
		}
		return fn(b)
	})
}

// SetNoSync disables fsync per transaction. Used for bulk loads followed by
// an explicit Sync.
func (t *TimeIndex) SetNoSync(noSync bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		t.db.NoSync = noSync
	}
}

// Sync flushes the index to stable storage.
func (t *TimeIndex) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil || t.readOnly {
		return nil
	}
	return t.db.Sync()
}

// Close closes the index. Closing twice is a no-op.
func (t *TimeIndex) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	if err != nil {
		return fmt.Errorf("failed to close tidx %s: %w", t.path, err)
	}
	return nil
}

// IsSevereTimeIndexError reports whether a write failure means the index
// can no longer be trusted. Argument errors are not severe.
func IsSevereTimeIndexError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, bolt.ErrKeyRequired),
		errors.Is(err, bolt.ErrKeyTooLarge),
		errors.Is(err, bolt.ErrValueTooLarge):
		return false
	}
	return true
}

// DisableTimeIndex closes t and renames its file aside so the next open
// runs without a timestamp index. It returns the new path.
func DisableTimeIndex(t *TimeIndex) (string, error) {
	closeErr := t.Close()
	aside := fmt.Sprintf("%s.%s.disabled", t.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(t.path, aside); err != nil {
		return "", fmt.Errorf("failed to rename tidx aside: %w", err)
	}
	return aside, closeErr
}
