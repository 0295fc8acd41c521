package server

import (
	"net/http"
)

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Summary(r.Context(), s.getUser(r).ID))
}

func (s *Server) handleDashboardHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.History(r.Context(), s.getUser(r).ID))
}

func (s *Server) handleDashboardMix(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Mix(r.Context(), s.getUser(r).ID))
}

func (s *Server) handleDashboardForecast(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dashboard.Forecast(r.Context(), s.getUser(r).ID))
}
