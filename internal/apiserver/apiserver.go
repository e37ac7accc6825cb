// SPDX-License-Identifier: GPL-3.0-or-later

// Package apiserver is the minimal control-plane HTTP surface
// cmd/raphnetd exposes alongside the configured topology: a liveness probe
// and a streaming endpoint for the controller's event plane. The full REST
// and websocket dashboard the original ships is out of scope (see
// DESIGN.md); Mount is the documented extension point a larger API surface
// would attach to.
package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/bassosimone/raphnet/controller"
)

// Mount registers the control-plane handlers on mux. When token is
// non-empty, a single Bearer-token check guards /events; /healthz is always
// served without authentication.
func Mount(mux *http.ServeMux, ctrl *controller.Controller, token string) {
	mux.HandleFunc("/healthz", handleHealthz(ctrl))
	mux.Handle("/events", authenticate(token, handleEvents(ctrl)))
}

func authenticate(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealthz(ctrl *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"state": ctrl.State().String()})
	}
}

// handleEvents streams the controller's event batches as newline-delimited
// JSON for as long as the client stays connected. A real websocket upgrade
// is not wired in: no websocket library is a dependency anywhere in the
// example pack this module was grounded on, and NDJSON-over-chunked-HTTP
// serves the same "subscribe to the live event plane" need without
// introducing an ungrounded dependency.
func handleEvents(ctrl *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		batches, cancel := ctrl.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)

		enc := json.NewEncoder(w)
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-batches:
				if !ok {
					return
				}
				if err := enc.Encode(batch); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
