package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/jsonlog/internal/logging"
)

// targetStore returns the target store or writes an error response
func (s *Server) targetStore(w http.ResponseWriter) (*logging.TargetStore, bool) {
	store := s.logManager.GetTargetStore()
	if store == nil {
		s.writeError(w, logging.ErrTargetStoreNotSet.Error(), statusForError(logging.ErrTargetStoreNotSet))
		return nil, false
	}
	return store, true
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	store, ok := s.targetStore(w)
	if !ok {
		return
	}

	targets, err := store.List()
	if err != nil {
		logrus.WithError(err).Error("Failed to list logging targets")
		s.writeError(w, "Failed to list logging targets", http.StatusInternalServerError)
		return
	}
	if targets == nil {
		targets = []logging.TargetConfig{}
	}
	s.writeJSON(w, targets)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	store, ok := s.targetStore(w)
	if !ok {
		return
	}

	target, err := store.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err.Error(), statusForError(err))
		return
	}
	s.writeJSON(w, target)
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	store, ok := s.targetStore(w)
	if !ok {
		return
	}

	var target logging.TargetConfig
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	target.ID = ""

	if err := store.Create(&target); err != nil {
		s.writeTargetError(w, err)
		return
	}

	s.reconfigure()
	s.writeJSONStatus(w, http.StatusCreated, target)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	store, ok := s.targetStore(w)
	if !ok {
		return
	}

	var target logging.TargetConfig
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	target.ID = mux.Vars(r)["id"]

	if err := store.Update(&target); err != nil {
		s.writeTargetError(w, err)
		return
	}

	s.reconfigure()
	s.writeJSON(w, target)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	store, ok := s.targetStore(w)
	if !ok {
		return
	}

	if err := store.Delete(mux.Vars(r)["id"]); err != nil {
		s.writeTargetError(w, err)
		return
	}

	s.reconfigure()
	w.WriteHeader(http.StatusNoContent)
}

// handleReconfigure reopens outputs from the current target store contents
func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.targetStore(w); !ok {
		return
	}

	s.reconfigure()
	s.writeJSON(w, s.logManager.Outputs())
}

// reconfigure applies the target store to the open outputs
func (s *Server) reconfigure() {
	s.logManager.Reconfigure()
	s.metricsManager.UpdateActiveOutputs(s.logManager.GetActiveOutputs())
}

func (s *Server) writeTargetError(w http.ResponseWriter, err error) {
	if errors.Is(err, logging.ErrInvalidTarget) {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).Error("Logging target operation failed")
	}
	s.writeError(w, err.Error(), status)
}
