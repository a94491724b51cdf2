package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/errdefs"
	"warden/internal/versions"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.started).String(),
		"time_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lc.Status())
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version string `json:"version"`
		Force   bool   `json:"force"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	prog, err := s.lc.Install(r.Context(), req.Version, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, prog)
}

func (s *Server) handleInstallProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lc.Progress())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.lc.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.lc.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.lc.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.lc.Status())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.lc.Restart(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.lc.Status())
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.List()})
}

func (s *Server) handleJobRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryLimit parses the optional ?limit=N parameter. Absent means everything.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errdefs.InvalidArgumentf("limit %q is not an integer", raw)
	}
	return n, nil
}

func (s *Server) handleConsoleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": s.console.History(limit)})
}

func (s *Server) handleConsoleClear(w http.ResponseWriter, r *http.Request) {
	s.console.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConsoleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.lc.SendCommand(req.Command); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"samples": s.history.History()})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	channels := map[string][]versions.VersionInfo{}
	for _, ch := range []versions.Channel{versions.ChannelStable, versions.ChannelUnstable} {
		if list, ok := s.versions.List(ch); ok {
			channels[string(ch)] = list
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"latest":   s.versions.Latest(),
		"channels": channels,
	})
}

func (s *Server) handleVersionsRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.versions.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.versions.Latest())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	doc, err := s.lc.Settings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := decodeJSON(w, r, &doc); err != nil {
		writeError(w, err)
		return
	}
	if err := s.lc.UpdateSettings(doc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_restart": s.lc.PendingRestart()})
}
