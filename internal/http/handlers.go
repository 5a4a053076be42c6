package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/services"
)

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in services.TransactionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := s.deps.Transactions.Create(r.Context(), userID(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	month := parseMonth(r, s.deps.Location)
	txs, err := s.deps.Transactions.List(r.Context(), userID(r.Context()), month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Month: month, Items: txs})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.deps.Transactions.Get(r.Context(), userID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var in services.TransactionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := s.deps.Transactions.Update(r.Context(), userID(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Transactions.Delete(r.Context(), userID(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in services.TemplateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	tpl, err := s.deps.Templates.Create(r.Context(), userID(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.deps.Templates.List(r.Context(), userID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: tpls})
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var in services.BudgetInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.deps.Budgets.Create(r.Context(), userID(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	month := parseMonth(r, s.deps.Location)
	budgets, err := s.deps.Budgets.List(r.Context(), userID(r.Context()), month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Month: month, Items: budgets})
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Budgets.Get(r.Context(), userID(r.Context()), chi.URLParam(r, "category"), chi.URLParam(r, "month"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
