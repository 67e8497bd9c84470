// =============================================================================
// STORE - THE ENGINE ENTRY POINT
// =============================================================================
//
// The Store is what the protocol layer talks to. It owns:
//   - the data root and an exclusive lock on it (one daemon per root)
//   - the registered backends
//   - exactly one LogHandle per open log name, reference counted
//
//   caller A ── Open(L) ──┐
//                         ├──► handle(L), refs=2 ──► Close ──► refs=1
//   caller B ── Open(L) ──┘                          Close ──► refs=0 → closed
//
// =============================================================================

package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-multierror"
)

// Options configures Init.
type Options struct {
	Root       string
	Backend    string
	Policy     DurabilityPolicy
	LogOptions LogOptions
	Logger     *slog.Logger
}

// DefaultOptions returns options for the given data root.
func DefaultOptions(root string) Options {
	return Options{
		Root:       root,
		Backend:    DiskBackendKind,
		Policy:     DefaultPolicy(),
		LogOptions: DefaultLogOptions(),
	}
}

type openLogEntry struct {
	handle LogHandle
	refs   int
}

// Store is the storage engine.
type Store struct {
	root     string
	lock     *flock.Flock
	logger   *slog.Logger
	backends map[string]Backend
	creator  Backend

	mu     sync.Mutex
	open   map[Name]*openLogEntry
	closed bool
}

// Init prepares the data root, takes its lock and registers the disk
// backend. It fails with ErrConflict if another process holds the root.
func Init(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("storage: data root must not be empty")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}

	lock := flock.New(filepath.Join(opts.Root, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data root: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: data root %s is in use by another process", ErrConflict, opts.Root)
	}

	s := &Store{
		root:     opts.Root,
		lock:     lock,
		logger:   logger.With("component", "store"),
		backends: make(map[string]Backend),
		open:     make(map[Name]*openLogEntry),
	}
	s.Register(NewDiskBackend(opts.Root, opts.Policy, opts.LogOptions, logger))

	kind := opts.Backend
	if kind == "" {
		kind = DiskBackendKind
	}
	creator, ok := s.backends[kind]
	if !ok {
		lock.Unlock()
		return nil, fmt.Errorf("storage: unknown backend %q", kind)
	}
	s.creator = creator

	s.logger.Info("storage initialized", "root", opts.Root, "backend", kind)
	return s, nil
}

// Register adds a backend. A backend of the same kind is replaced.
func (s *Store) Register(b Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends[b.Kind()] = b
}

// Root returns the data root.
func (s *Store) Root() string { return s.root }

// backendFor finds the backend holding name.
func (s *Store) backendFor(name Name) (Backend, error) {
	for _, b := range s.backends {
		ok, err := b.Exists(name)
		if err != nil {
			return nil, err
		}
		if ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: log %s", ErrNotFound, name)
}

// Create creates a new log with the configured backend and returns it open
// for reading and appending.
func (s *Store) Create(name Name, md *Metadata) (LogHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrLogClosed
	}
	if _, ok := s.open[name]; ok {
		return nil, fmt.Errorf("%w: log %s already exists", ErrConflict, name)
	}
	if _, err := s.backendFor(name); err == nil {
		return nil, fmt.Errorf("%w: log %s already exists", ErrConflict, name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	h, err := s.creator.Create(name, md)
	if err != nil {
		return nil, err
	}
	s.open[name] = &openLogEntry{handle: h, refs: 1}
	return h, nil
}

// Open returns the handle for name, opening it on first use. A second open
// with a wider mode widens the shared handle.
func (s *Store) Open(name Name, mode OpenMode) (LogHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrLogClosed
	}
	if e, ok := s.open[name]; ok {
		if !e.handle.Mode().Has(mode) {
			if err := e.handle.WidenMode(mode); err != nil {
				return nil, err
			}
		}
		e.refs++
		return e.handle, nil
	}

	b, err := s.backendFor(name)
	if err != nil {
		return nil, err
	}
	h, err := b.Open(name, mode)
	if err != nil {
		return nil, err
	}
	s.open[name] = &openLogEntry{handle: h, refs: 1}
	return h, nil
}

// Close releases one reference to h. The log is closed when the last
// reference goes.
func (s *Store) Close(h LogHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.open[h.Name()]
	if !ok || e.handle != h {
		return fmt.Errorf("%w: log %s is not open", ErrNotFound, h.Name())
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(s.open, h.Name())
	return h.Close()
}

// Delete closes h regardless of other references and removes the log from
// disk. This cannot be undone.
func (s *Store) Delete(h LogHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := h.Name()
	b, err := s.backendFor(name)
	if err != nil {
		return err
	}
	delete(s.open, name)
	if err := h.Close(); err != nil {
		s.logger.Warn("error closing log before delete", "log", name.String(), "error", err)
	}
	return b.Remove(name)
}

// ForEachLog visits every log of every backend.
func (s *Store) ForEachLog(visit func(Name) error) error {
	s.mu.Lock()
	backends := make([]Backend, 0, len(s.backends))
	for _, b := range s.backends {
		backends = append(backends, b)
	}
	s.mu.Unlock()

	for _, b := range backends {
		if err := b.ForEachLog(visit); err != nil {
			return err
		}
	}
	return nil
}

// OpenLogs returns the number of distinct open logs.
func (s *Store) OpenLogs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Shutdown closes every open log and releases the data root.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error
	for name, e := range s.open {
		if err := e.handle.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("log %s: %w", name, err))
		}
	}
	s.open = nil
	if err := s.lock.Unlock(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to unlock data root: %w", err))
	}
	s.logger.Info("storage shut down")
	return result.ErrorOrNil()
}
