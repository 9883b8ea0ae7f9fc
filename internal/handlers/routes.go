// Package handlers exposes the dispatcher over HTTP.
package handlers

import "net/http"

// NewMux registers every endpoint. metrics may be nil.
func NewMux(h *NotificationHandler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HandleHealth)
	mux.HandleFunc("/v1/notifications", h.HandleNotifications)
	mux.HandleFunc("/v1/executions/", h.HandleExecution)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}
