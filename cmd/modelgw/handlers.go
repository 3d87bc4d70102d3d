package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	modelgateway "github.com/corvid-labs/model-gateway"
	"github.com/corvid-labs/model-gateway/providers"
)

// RouteRequest is the POST /v1/route body: model requirements plus the input
// forwarded to the selected model.
type RouteRequest struct {
	Requirements modelgateway.ModelRequirements `json:"requirements"`
	Input        any                            `json:"input"`
}

// RouteResponse reports which model served the request alongside its output.
type RouteResponse struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Output   any    `json:"output"`
}

// AggregateRequest is the POST /v1/route/aggregate body.
type AggregateRequest struct {
	Requirements modelgateway.ModelRequirements `json:"requirements"`
	Input        any                            `json:"input"`
	Mode         modelgateway.AggregationMode   `json:"mode"`
	Fanout       int                            `json:"fanout,omitempty"`
}

func routeHandler(mw *modelgateway.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		var served providers.ModelHandle
		result, err := mw.ProcessRequest(r.Context(),
			&modelgateway.Request{Requirements: req.Requirements, Input: req.Input},
			func(ctx context.Context, handle providers.ModelHandle) (any, error) {
				served = handle
				return handle.Invoke(ctx, req.Input)
			})
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, RouteResponse{
			Provider: served.Provider,
			Model:    served.Model,
			Output:   result,
		})
	}
}

func aggregateHandler(mw *modelgateway.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AggregateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Mode == "" {
			req.Mode = modelgateway.AggregateConsensus
		}

		agg, err := mw.ProcessAggregatedRequest(r.Context(),
			&modelgateway.Request{Requirements: req.Requirements, Input: req.Input},
			req.Mode, req.Fanout,
			func(ctx context.Context, handle providers.ModelHandle) (any, error) {
				return handle.Invoke(ctx, req.Input)
			})
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, agg)
	}
}

func providersHandler(gw *modelgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type providerView struct {
			ID         string `json:"id"`
			Discovered bool   `json:"discovered"`
			Models     int    `json:"models"`
		}
		var out []providerView
		seen := map[string]bool{}
		for id, dp := range gw.DiscoveredProviders() {
			out = append(out, providerView{ID: id, Discovered: true, Models: len(dp.Models)})
			seen[id] = true
		}
		for id := range gw.GetAllProviderStatuses() {
			if !seen[id] {
				out = append(out, providerView{ID: id})
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": out})
	}
}

func providerHealthHandler(gw *modelgateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, gw.GetAllProviderStatuses())
	}
}

func circuitBreakersHandler(mw *modelgateway.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, mw.GetCircuitBreakerStatus())
	}
}

func cacheStatsHandler(mw *modelgateway.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, mw.GetCacheStats())
	}
}

func clearCacheHandler(mw *modelgateway.Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mw.ClearCache()
		w.WriteHeader(http.StatusNoContent)
	}
}

func statusFor(err error) int {
	switch {
	case modelgateway.IsNoSuitableModel(err):
		return http.StatusUnprocessableEntity
	case modelgateway.IsAllProvidersFailed(err):
		return http.StatusBadGateway
	case errors.Is(err, modelgateway.ErrAggregationDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": msg}})
}
