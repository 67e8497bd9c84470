package storage

import (
	"errors"
	"sort"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Init(DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func TestStore_CreateOpenClose(t *testing.T) {
	s := newTestStore(t)
	name := testName(t, "store-log")

	h, err := s.Create(name, NewMetadata().Add(MDCreator, []byte("test")))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := h.Append(&Record{Payload: []byte("a")}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Create(name, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("second create: error = %v, want ErrConflict", err)
	}

	// A second open shares the handle.
	h2, err := s.Open(name, ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	if h2 != h {
		t.Error("expected the same handle for a log already open")
	}
	if s.OpenLogs() != 1 {
		t.Errorf("OpenLogs = %d", s.OpenLogs())
	}

	s.Close(h2)
	if _, err := h.ReadByRecno(1); err != nil {
		t.Errorf("handle closed while still referenced: %v", err)
	}
	s.Close(h)
	if s.OpenLogs() != 0 {
		t.Errorf("OpenLogs after close = %d", s.OpenLogs())
	}

	h3, err := s.Open(name, ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(h3)
	rec, err := h3.ReadByRecno(1)
	if err != nil || string(rec.Payload) != "a" {
		t.Errorf("read after reopen = %v, %v", rec, err)
	}
	md, _ := h3.Metadata()
	if v, _ := md.Get(MDCreator); string(v) != "test" {
		t.Errorf("metadata = %q", v)
	}
}

func TestStore_OpenWidensMode(t *testing.T) {
	s := newTestStore(t)
	name := testName(t, "widen")

	h, _ := s.Create(name, nil)
	s.Close(h)

	r, err := s.Open(name, ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Append(&Record{}); !errors.Is(err, ErrMethodNotAllowed) {
		t.Errorf("append on read handle: error = %v", err)
	}

	w, err := s.Open(name, ModeAppend)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(&Record{Payload: []byte("x")}); err != nil {
		t.Errorf("append after widening: %v", err)
	}
	s.Close(w)
	s.Close(r)
}

func TestStore_OpenMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Open(testName(t, "nope"), ModeRead); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	s := newTestStore(t)

	var names []string
	for _, n := range []string{"one", "two", "three"} {
		name := testName(t, n)
		h, err := s.Create(name, nil)
		if err != nil {
			t.Fatal(err)
		}
		if n == "two" {
			if err := s.Delete(h); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			continue
		}
		s.Close(h)
		names = append(names, name.String())
	}

	var listed []string
	err := s.ForEachLog(func(n Name) error {
		listed = append(listed, n.String())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	sort.Strings(listed)
	if len(listed) != 2 || listed[0] != names[0] || listed[1] != names[1] {
		t.Errorf("ForEachLog = %v, want %v", listed, names)
	}

	if _, err := s.Open(testName(t, "two"), ModeRead); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted log still opens: %v", err)
	}
}

func TestStore_RootLock(t *testing.T) {
	root := t.TempDir()
	s, err := Init(DefaultOptions(root))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Init(DefaultOptions(root)); !errors.Is(err, ErrConflict) {
		t.Errorf("second Init: error = %v, want ErrConflict", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatal(err)
	}

	s2, err := Init(DefaultOptions(root))
	if err != nil {
		t.Fatalf("Init after shutdown: %v", err)
	}
	s2.Shutdown()
}

func TestStore_ShutdownClosesLogs(t *testing.T) {
	root := t.TempDir()
	s, err := Init(DefaultOptions(root))
	if err != nil {
		t.Fatal(err)
	}
	h, _ := s.Create(testName(t, "open"), nil)

	if err := s.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ReadByRecno(1); !errors.Is(err, ErrLogClosed) {
		t.Errorf("handle after shutdown: error = %v", err)
	}
	if _, err := s.Open(testName(t, "open"), ModeRead); !errors.Is(err, ErrLogClosed) {
		t.Errorf("open after shutdown: error = %v", err)
	}
}

func TestStore_UnknownBackend(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.Backend = "sqlite"
	if _, err := Init(opts); err == nil {
		t.Error("expected error for unknown backend")
	}
}
