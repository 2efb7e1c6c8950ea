package web

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/history"
)

type dashboardView struct {
	Summary history.Summary
	Records []analysis.HistoryRecord
}

// dashboard notices passed through the redirect after a delete.
var dashboardNotices = map[string]string{
	"deleted":        "Analysis deleted.",
	"delete_failed":  history.ErrDeleteFailed.Error(),
	"delete_pending": "Delete already in progress.",
	"not_found":      "That analysis no longer exists.",
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id := clientID(r)
	s.flows.Release(id)
	view := s.history.For(id)

	data := s.page(r, "Dashboard", nil)
	_, err := view.Load(r.Context(), data.Session)
	if errors.Is(err, history.ErrLoginRequired) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if err != nil {
		data.Error = err.Error()
	}

	switch key := r.URL.Query().Get("msg"); key {
	case "delete_failed", "not_found":
		data.Error = dashboardNotices[key]
	default:
		data.Notice = dashboardNotices[key]
	}

	data.Data = dashboardView{Summary: view.Summary(), Records: view.Records()}
	s.render(w, r, http.StatusOK, "dashboard", data)
}

func (s *Server) findRecord(r *http.Request) (analysis.HistoryRecord, bool) {
	id := analysis.RecordID(mux.Vars(r)["id"])
	for _, rec := range s.history.For(clientID(r)).Records() {
		if rec.ID == id {
			return rec, true
		}
	}
	return analysis.HistoryRecord{}, false
}

func (s *Server) handleConfirmDelete(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.findRecord(r)
	if !ok {
		http.Redirect(w, r, "/dashboard?msg=not_found", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "confirm_delete", s.page(r, "Delete analysis", rec))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := analysis.RecordID(mux.Vars(r)["id"])
	view := s.history.For(clientID(r))

	if view.Pending(id) {
		http.Redirect(w, r, "/dashboard?msg=delete_pending", http.StatusSeeOther)
		return
	}

	err := view.Delete(r.Context(), s.sessionFor(r), id)
	switch {
	case err == nil:
		hlog.FromRequest(r).Info().Str("id", string(id)).Msg("analysis deleted")
		http.Redirect(w, r, "/dashboard?msg=deleted", http.StatusSeeOther)
	case errors.Is(err, history.ErrLoginRequired):
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	case errors.Is(err, history.ErrNotFound):
		http.Redirect(w, r, "/dashboard?msg=not_found", http.StatusSeeOther)
	default:
		http.Redirect(w, r, "/dashboard?msg=delete_failed", http.StatusSeeOther)
	}
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	id := analysis.RecordID(mux.Vars(r)["id"])
	entry, err := s.history.For(clientID(r)).Open(id)
	if err != nil {
		http.Redirect(w, r, "/dashboard?msg=not_found", http.StatusSeeOther)
		return
	}
	s.handoffs.Put(clientID(r), entry)
	http.Redirect(w, r, "/results", http.StatusSeeOther)
}
