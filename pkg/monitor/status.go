// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and diskverdict contributors
//
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Handler serves /metrics, /status and the diagnostic /scan endpoint.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", m.serveStatus)
	mux.HandleFunc("/scan", m.serveScan)
	return mux
}

// StartStatusServer serves Handler on port in the background.
func (m *Monitor) StartStatusServer(port int) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("starting status server on :%d", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("error starting status server")
		}
	}()
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("error marshalling status")
		http.Error(w, "error marshalling status", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (m *Monitor) serveStatus(w http.ResponseWriter, r *http.Request) {
	results := m.Results()
	if handle := r.URL.Query().Get("device"); handle != "" {
		for _, res := range results {
			if res.Identity.Handle == handle || res.Identity.Handle == "/dev/"+handle || res.DiskID == handle {
				writeJSON(w, http.StatusOK, res)
				return
			}
		}
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_name": m.cfg.NodeName,
		"devices":   results,
	})
}

func (m *Monitor) serveScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handle := r.URL.Query().Get("device")
	if handle == "" {
		http.Error(w, "missing device", http.StatusBadRequest)
		return
	}
	res, err := m.ForceScan(r.Context(), handle)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
