package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/jsonlog/internal/logging"
)

// APIResponse is the envelope of every API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WriteEntryRequest is a log call submitted over HTTP
type WriteEntryRequest struct {
	Level   string                 `json:"level"` // any logrus level name, default info
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields"`
}

// EntriesResponse lists the decoded contents of a JSON log file
type EntriesResponse struct {
	Output  string             `json:"output"`
	Total   int                `json:"total"`
	Entries []logging.LogEntry `json:"entries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"active_outputs": s.logManager.GetActiveOutputs(),
	})
}

func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	outputs := s.logManager.Outputs()
	s.metricsManager.UpdateActiveOutputs(len(outputs))
	s.writeJSON(w, outputs)
}

// handleListEntries returns the entries of an output, oldest first. level
// accepts any logrus level name, category matches exactly, limit keeps the newest.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	output, ok := s.logManager.Output(name)
	if !ok {
		s.writeError(w, "Output not found: "+name, http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	limit := 0
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, "Invalid limit: "+v, http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := output.Entries()
	if err != nil {
		logrus.WithError(err).WithField("output", name).Error("Failed to read log entries")
		s.writeError(w, "Failed to read log entries", http.StatusInternalServerError)
		return
	}

	filtered, err := logging.FilterEntries(entries, query.Get("level"), query.Get("category"), limit)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.writeJSON(w, EntriesResponse{
		Output:  name,
		Total:   len(entries),
		Entries: filtered,
	})
}

// handleWriteEntry logs one entry through the hook feeding the output. The
// entry is queued, not yet written, when the response is sent.
func (s *Server) handleWriteEntry(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	hook, ok := s.logManager.Hook(name)
	if !ok {
		s.writeError(w, "Output not found: "+name, http.StatusNotFound)
		return
	}

	var req WriteEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		s.writeError(w, "Message is required", http.StatusBadRequest)
		return
	}

	level := logrus.InfoLevel
	if req.Level != "" {
		parsed, err := logrus.ParseLevel(req.Level)
		if err != nil {
			s.writeError(w, "Invalid level: "+req.Level, http.StatusBadRequest)
			return
		}
		level = parsed
	}

	accepted := hook.Enabled(level)
	if accepted {
		entry := &logrus.Entry{
			Logger:  s.logManager.Logger(),
			Data:    logrus.Fields(req.Fields),
			Time:    time.Now(),
			Level:   level,
			Message: req.Message,
		}
		if err := hook.Fire(entry); err != nil {
			s.writeError(w, "Failed to write entry", http.StatusInternalServerError)
			return
		}
	}

	s.writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{
		"output":   name,
		"accepted": accepted,
	})
}

func (s *Server) handleClearEntries(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	output, ok := s.logManager.Output(name)
	if !ok {
		s.writeError(w, "Output not found: "+name, http.StatusNotFound)
		return
	}

	output.Clear()
	logrus.WithField("output", name).Info("Log output cleared")
	s.writeJSONStatus(w, http.StatusAccepted, map[string]string{"output": name, "queued": logging.OpClear})
}

// handleClearAllEntries empties every open output
func (s *Server) handleClearAllEntries(w http.ResponseWriter, r *http.Request) {
	s.logManager.ClearAll()
	logrus.WithField("outputs", s.logManager.GetActiveOutputs()).Info("All log outputs cleared")
	s.writeJSONStatus(w, http.StatusAccepted, map[string]interface{}{
		"outputs": s.logManager.GetActiveOutputs(),
		"queued":  logging.OpClear,
	})
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	output, ok := s.logManager.Output(name)
	if !ok {
		s.writeError(w, "Output not found: "+name, http.StatusNotFound)
		return
	}

	output.Truncate()
	s.writeJSONStatus(w, http.StatusAccepted, map[string]string{"output": name, "queued": logging.OpTruncate})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	output, ok := s.logManager.Output(name)
	if !ok {
		s.writeError(w, "Output not found: "+name, http.StatusNotFound)
		return
	}

	output.Flush()
	s.writeJSON(w, map[string]string{"output": name})
}

// Helper methods
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
	logrus.WithField("error", message).WithField("status", statusCode).Warn("API error")
}

// statusForError maps logging sentinels to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, logging.ErrTargetNotFound), errors.Is(err, logging.ErrOutputNotFound):
		return http.StatusNotFound
	case errors.Is(err, logging.ErrTargetStoreNotSet):
		return http.StatusServiceUnavailable
	case errors.Is(err, logging.ErrOutputExists), errors.Is(err, logging.ErrTargetExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
