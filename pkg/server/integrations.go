package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sunwise/sunwise/pkg/integration"
	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/storage"
	"github.com/sunwise/sunwise/pkg/types"
)

const maxIntegrationBody = 16 << 10

// handleListIntegrations returns one entry per supported provider, in
// types.Providers order, whether or not the user ever connected it.
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stored, err := s.integrations.List(ctx, s.getUser(r).ID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list integrations", slog.Any("error", err))
		writeJSONError(w, "failed to list integrations", http.StatusInternalServerError)
		return
	}
	byProvider := make(map[types.ProviderTag]types.Integration, len(stored))
	for _, i := range stored {
		byProvider[i.Provider] = i
	}
	infos := make([]types.IntegrationInfo, 0, len(types.Providers))
	for _, p := range types.Providers {
		if i, ok := byProvider[p]; ok {
			infos = append(infos, i.Info())
		} else {
			infos = append(infos, types.IntegrationInfo{Provider: p})
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

type connectRequest struct {
	Provider   types.ProviderTag  `json:"provider"`
	Credential string             `json:"credential"`
	Tokens     *types.OAuthTokens `json:"tokens,omitempty"`
}

func (s *Server) handleConnectIntegration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req connectRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxIntegrationBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	i, err := s.integrations.Connect(ctx, s.getUser(r).ID, req.Provider, req.Credential, req.Tokens)
	if err != nil {
		if errors.Is(err, integration.ErrInvalidCredential) || errors.Is(err, integration.ErrUnknownProvider) {
			log.Ctx(ctx).InfoContext(ctx, "integration rejected", slog.String("provider", string(req.Provider)), slog.Any("error", err))
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, integration.ErrVerificationUnavailable) {
			log.Ctx(ctx).WarnContext(ctx, "integration could not be verified", slog.String("provider", string(req.Provider)), slog.Any("error", err))
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, "inverter api unavailable, try again later", http.StatusServiceUnavailable)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect integration", slog.Any("error", err))
		writeJSONError(w, "failed to connect integration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, i.Info())
}

func (s *Server) handleDisconnectIntegration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Provider types.ProviderTag `json:"provider"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxIntegrationBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.integrations.Disconnect(ctx, s.getUser(r).ID, req.Provider)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, integration.ErrUnknownProvider):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrIntegrationNotFound):
		writeJSONError(w, "integration not found", http.StatusNotFound)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "failed to disconnect integration", slog.Any("error", err))
		writeJSONError(w, "failed to disconnect integration", http.StatusInternalServerError)
	}
}
