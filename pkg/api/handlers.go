package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/redirect"
	"github.com/psaab/vtnflow/pkg/vtn"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

// readJSON decodes the request body into v, writing a 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Current()
	resp := StatusResponse{
		Uptime:          time.Since(s.startTime).Truncate(time.Second).String(),
		ConfigLoaded:    s.store.ActiveConfig() != nil,
		Generation:      snap.Generation(),
		TenantCount:     len(snap.Tenants()),
		FilterListCount: len(snap.Lists()),
		WarningCount:    len(snap.Warnings()),
		MaxRedirections: snap.MaxRedirections(),
	}
	if s.engine != nil {
		resp.Decisions = s.engine.Stats().Decisions
	}
	writeOK(w, resp)
}

func (s *Server) filtersHandler(w http.ResponseWriter, r *http.Request) {
	var hits map[redirect.Hit]uint64
	if s.engine != nil {
		hits = s.engine.Stats().FilterHits
	}
	writeOK(w, FilterLists(s.store.Current(), r.URL.Query().Get("tenant"), hits))
}

func (s *Server) conditionsHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, Conditions(s.store.Current()))
}

func (s *Server) warningsHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, Warnings(s.store.Current()))
}

func (s *Server) traceHandler(w http.ResponseWriter, r *http.Request) {
	if s.trace == nil {
		writeError(w, http.StatusServiceUnavailable, "trace buffer not available")
		return
	}
	limit := queryInt(r, "limit", 50)
	f := traceFilterFromQuery(r)
	recs := s.trace.LatestFiltered(limit, f)
	if recs == nil {
		recs = []logging.TraceRecord{}
	}
	writeOK(w, recs)
}

func traceFilterFromQuery(r *http.Request) logging.TraceFilter {
	q := r.URL.Query()
	return logging.TraceFilter{
		Type:    q.Get("type"),
		Tenant:  q.Get("tenant"),
		Verdict: q.Get("verdict"),
		Reason:  q.Get("reason"),
	}
}

func (s *Server) decideHandler(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not available")
		return
	}
	var req DecideRequest
	if !readJSON(w, r, &req) {
		return
	}
	resp, err := Decide(s.engine, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, resp)
}

func (s *Server) configHandler(w http.ResponseWriter, _ *http.Request) {
	cfg := s.store.ActiveConfig()
	if cfg == nil {
		writeError(w, http.StatusNotFound, "no active configuration")
		return
	}
	writeOK(w, cfg)
}

func (s *Server) configEnterHandler(w http.ResponseWriter, _ *http.Request) {
	if err := s.store.EnterConfigure(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) configExitHandler(w http.ResponseWriter, _ *http.Request) {
	s.store.ExitConfigure()
	writeOK(w, nil)
}

func (s *Server) configStatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, ConfigModeStatus{
		InConfigMode: s.store.InConfigMode(),
		Dirty:        s.store.IsDirty(),
	})
}

func (s *Server) configSetHandler(w http.ResponseWriter, r *http.Request) {
	var req ConfigSetRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.store.SetFromInput(req.Input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) configDeleteHandler(w http.ResponseWriter, r *http.Request) {
	var req ConfigSetRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.store.DeleteFromInput(req.Input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) configLoadHandler(w http.ResponseWriter, r *http.Request) {
	var req ConfigLoadRequest
	if !readJSON(w, r, &req) {
		return
	}
	var err error
	switch req.Mode {
	case "override":
		err = s.store.LoadOverride(req.Content)
	case "merge", "":
		err = s.store.LoadMerge(req.Content)
	default:
		writeError(w, http.StatusBadRequest, "mode must be override or merge")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) configCommitHandler(w http.ResponseWriter, r *http.Request) {
	var req ConfigCommitRequest
	if r.ContentLength != 0 && !readJSON(w, r, &req) {
		return
	}
	snap, err := s.store.Commit(req.Comment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, newCommitResult(snap))
}

func (s *Server) configCommitCheckHandler(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.store.CommitCheck()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, newCommitResult(snap))
}

func newCommitResult(snap *vtn.Snapshot) CommitResult {
	return CommitResult{Generation: snap.Generation(), Warnings: Warnings(snap)}
}

func (s *Server) configRollbackHandler(w http.ResponseWriter, r *http.Request) {
	var req ConfigRollbackRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.store.Rollback(req.N); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, nil)
}

// configShowHandler returns the candidate (?target=candidate) or active
// configuration as hierarchical text or set commands (?format=set).
func (s *Server) configShowHandler(w http.ResponseWriter, r *http.Request) {
	set := r.URL.Query().Get("format") == "set"
	var out string
	switch r.URL.Query().Get("target") {
	case "candidate":
		if !s.store.InConfigMode() {
			writeError(w, http.StatusConflict, "not in configuration mode")
			return
		}
		if set {
			out = s.store.ShowCandidateSet()
		} else {
			out = s.store.ShowCandidate()
		}
	case "", "active":
		if set {
			out = s.store.ShowActiveSet()
		} else {
			out = s.store.ShowActive()
		}
	default:
		writeError(w, http.StatusBadRequest, "target must be active or candidate")
		return
	}
	writeOK(w, map[string]string{"output": out})
}

func (s *Server) configExportHandler(w http.ResponseWriter, r *http.Request) {
	var out string
	switch r.URL.Query().Get("format") {
	case "set", "":
		out = s.store.ShowActiveSet()
	case "text":
		out = s.store.ShowActive()
	case "json":
		data, err := s.store.ExportJSON()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = string(data)
	default:
		writeError(w, http.StatusBadRequest, "unsupported format")
		return
	}
	writeOK(w, map[string]string{"output": out})
}

// configCompareHandler diffs the candidate against the active configuration,
// or against rollback ?n= when given.
func (s *Server) configCompareHandler(w http.ResponseWriter, r *http.Request) {
	if !s.store.InConfigMode() {
		writeError(w, http.StatusConflict, "not in configuration mode")
		return
	}
	n := queryInt(r, "n", 0)
	if n == 0 {
		writeOK(w, map[string]string{"output": s.store.ShowCompare()})
		return
	}
	out, err := s.store.ShowCompareRollback(n)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, map[string]string{"output": out})
}

func (s *Server) configHistoryHandler(w http.ResponseWriter, _ *http.Request) {
	entries := []HistoryEntry{}
	for _, e := range s.store.ListHistory() {
		entries = append(entries, HistoryEntry{
			Index:      e.Rollback,
			Generation: e.Generation,
			Timestamp:  e.Timestamp.Format(time.RFC3339),
			Comment:    e.Comment,
		})
	}
	writeOK(w, entries)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
