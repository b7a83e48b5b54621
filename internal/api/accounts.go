package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"igbatch/pkg/storage"
)

type addAccountRequest struct {
	Username string `json:"username"`
}

func (s *Server) accountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, storage.ErrAccountExists):
		writeError(w, http.StatusConflict, "Account already exists")
	case errors.Is(err, storage.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, "Invalid Instagram username")
	default:
		s.logger.WithContext(r.Context()).WithError(err).Error("Account store failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		s.accountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": accounts})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccount(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.accountError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": account})
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	account, err := s.store.AddAccount(r.Context(), req.Username)
	if err != nil {
		s.accountError(w, r, err)
		return
	}
	s.logger.WithContext(r.Context()).WithField("username", account.Username).Info("Tracking account")
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": account})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := s.store.RemoveAccount(r.Context(), username); err != nil {
		s.accountError(w, r, err)
		return
	}
	s.logger.WithContext(r.Context()).WithField("username", username).Info("Stopped tracking account")
	w.WriteHeader(http.StatusNoContent)
}
