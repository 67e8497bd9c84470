package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Halliburton-Landmark/gdp-sub000/internal/storage"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// LogSummary is the body of GET /logs/{name}. RecordCount spans the first
// readable record to the newest one, holes included.
type LogSummary struct {
	Name        string          `json:"name"`
	RecordCount int64           `json:"record_count"`
	ByteSize    int64           `json:"byte_size"`
	Metadata    []MetadataEntry `json:"metadata"`
}

// MetadataEntry is one metadata item. Value is base64 in JSON; Text is set
// when the value is printable.
type MetadataEntry struct {
	ID    string `json:"id"`
	Value []byte `json:"value"`
	Text  string `json:"text,omitempty"`
}

// RecordResponse is the body of GET /logs/{name}/records/{recno}.
type RecordResponse struct {
	Recno     storage.Recno `json:"recno"`
	Timestamp string        `json:"timestamp"`
	Accuracy  float32       `json:"accuracy,omitempty"`
	Flags     uint16        `json:"flags"`
	Payload   []byte        `json:"payload"`
	Signature []byte        `json:"signature,omitempty"`
}

// =============================================================================
// LOG HANDLERS
// =============================================================================

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	err := s.engine.ForEachLog(func(n storage.Name) error {
		names = append(names, n.String())
		return nil
	})
	if err != nil {
		s.storageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  names,
		"count": len(names),
	})
}

func (s *Server) getLog(w http.ResponseWriter, r *http.Request) {
	h, ok := s.openLog(w, r)
	if !ok {
		return
	}
	defer s.engine.Close(h)

	stats, err := h.Stats()
	if err != nil {
		s.storageError(w, err)
		return
	}
	md, err := h.Metadata()
	if err != nil {
		s.storageError(w, err)
		return
	}

	entries := make([]MetadataEntry, 0, md.Len())
	for _, e := range md.Entries() {
		me := MetadataEntry{ID: fmt.Sprintf("0x%08x", e.ID), Value: e.Data}
		if printable(e.Data) {
			me.Text = string(e.Data)
		}
		entries = append(entries, me)
	}

	s.writeJSON(w, http.StatusOK, LogSummary{
		Name:        h.Name().String(),
		RecordCount: stats.RecordCount,
		ByteSize:    stats.ByteSize,
		Metadata:    entries,
	})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	recno, err := strconv.ParseUint(chi.URLParam(r, "recno"), 10, 64)
	if err != nil || recno == 0 {
		s.errorResponse(w, http.StatusBadRequest, "record number must be a positive integer")
		return
	}

	h, ok := s.openLog(w, r)
	if !ok {
		return
	}
	defer s.engine.Close(h)

	rec, err := h.ReadByRecno(storage.Recno(recno))
	if err != nil {
		s.storageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RecordResponse{
		Recno:     rec.Recno,
		Timestamp: rec.Timestamp.String(),
		Accuracy:  rec.Timestamp.Accuracy,
		Flags:     rec.Flags,
		Payload:   rec.Payload,
		Signature: rec.Signature,
	})
}

func (s *Server) findByTime(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("time")
	if raw == "" {
		s.errorResponse(w, http.StatusBadRequest, "time parameter is required")
		return
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "time must be RFC 3339: "+err.Error())
		return
	}

	h, ok := s.openLog(w, r)
	if !ok {
		return
	}
	defer s.engine.Close(h)

	ts := storage.TimestampFromTime(t)
	recno, err := h.TimestampToRecno(ts)
	if err != nil {
		s.storageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"time":  ts.String(),
		"recno": recno,
	})
}

// openLog resolves {logName} and opens it for reading. On failure the
// response has been written and ok is false.
func (s *Server) openLog(w http.ResponseWriter, r *http.Request) (storage.LogHandle, bool) {
	name, err := storage.ParseName(chi.URLParam(r, "logName"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	h, err := s.engine.Open(name, storage.ModeRead)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "log not found: "+name.String())
			return nil, false
		}
		s.storageError(w, err)
		return nil, false
	}
	return h, true
}

func printable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
