package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogHandle is the operation set of one open log.
type LogHandle interface {
	Name() Name
	Mode() OpenMode
	Append(rec *Record) error
	ReadByRecno(recno Recno) (*Record, error)
	TimestampToRecno(ts Timestamp) (Recno, error)
	Metadata() (*Metadata, error)
	NewSegment() error
	Retire(before Recno) (int, error)
	Stats() (Stats, error)
	RecnoExists(recno Recno) bool
	Close() error

	// WidenMode lets a shared handle serve a wider mode than it was
	// opened with.
	WidenMode(mode OpenMode) error
}

// Backend is a storage strategy. A log is bound to one backend when it is
// created and is never served by another.
type Backend interface {
	// Kind names the backend in configuration.
	Kind() string
	Create(name Name, md *Metadata) (LogHandle, error)
	Open(name Name, mode OpenMode) (LogHandle, error)
	Exists(name Name) (bool, error)
	Remove(name Name) error
	ForEachLog(visit func(Name) error) error
}

// DiskBackendKind is the Kind of DiskBackend.
const DiskBackendKind = "disk"

// DiskBackend stores each log as segment files plus RIDX and TIDX under a
// data root.
type DiskBackend struct {
	root   string
	policy DurabilityPolicy
	opts   LogOptions
	logger *slog.Logger
}

// NewDiskBackend returns a backend rooted at root.
func NewDiskBackend(root string, policy DurabilityPolicy, opts LogOptions, logger *slog.Logger) *DiskBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskBackend{root: root, policy: policy, opts: opts, logger: logger}
}

// Kind implements Backend.
func (b *DiskBackend) Kind() string { return DiskBackendKind }

// Root returns the data root.
func (b *DiskBackend) Root() string { return b.root }

// Create implements Backend.
func (b *DiskBackend) Create(name Name, md *Metadata) (LogHandle, error) {
	return createLog(LogDir(b.root, name), name, md, b.policy, b.opts, b.logger)
}

// Open implements Backend.
func (b *DiskBackend) Open(name Name, mode OpenMode) (LogHandle, error) {
	return openLog(LogDir(b.root, name), name, mode, b.policy, b.opts, b.logger)
}

// Exists implements Backend.
func (b *DiskBackend) Exists(name Name) (bool, error) {
	_, err := os.Stat(LogDir(b.root, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat log %s: %w", name, err)
}

// Remove deletes the log's directory and, if it became empty, the name
// fragment directory above it.
func (b *DiskBackend) Remove(name Name) error {
	dir := LogDir(b.root, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: log %s", ErrNotFound, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete log %s: %w", name, err)
	}
	// Fails harmlessly while other logs share the fragment.
	os.Remove(filepath.Dir(dir))
	b.logger.Info("log deleted", "component", "storage", "log", name.String())
	return nil
}

// ForEachLog calls visit for every log under the root. Directories that do
// not look like logs are skipped. A visit error stops the walk.
func (b *DiskBackend) ForEachLog(visit func(Name) error) error {
	frags, err := os.ReadDir(b.root)
	if err != nil {
		return fmt.Errorf("failed to list data root: %w", err)
	}
	for _, frag := range frags {
		if !frag.IsDir() || !strings.HasPrefix(frag.Name(), "_") {
			continue
		}
		logs, err := os.ReadDir(filepath.Join(b.root, frag.Name()))
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", frag.Name(), err)
		}
		for _, e := range logs {
			if !e.IsDir() {
				continue
			}
			name, ok := parsePrintableName(e.Name())
			if !ok || fmt.Sprintf("_%02x", name[0]) != frag.Name() {
				b.logger.Debug("skipping unrecognised directory", "dir", e.Name())
				continue
			}
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func parsePrintableName(s string) (Name, bool) {
	var n Name
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(b) != NameSize {
		return n, false
	}
	copy(n[:], b)
	return n, true
}

var (
	_ Backend   = (*DiskBackend)(nil)
	_ LogHandle = (*Log)(nil)
)
