// Package server assembles the HTTP mux for the subscriber.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/btall/core-africare-identity-sub001/internal/handlers"
	"github.com/btall/core-africare-identity-sub001/internal/middleware"
)

// NewRouter wires the webhook ingress, admin API, probes, and metrics onto a
// single mux. Every request gets a request ID.
func NewRouter(webhook *handlers.WebhookHandler, admin *handlers.AdminHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhooks/identity", webhook.HandleEvent)

	mux.HandleFunc("/admin/quarantine", admin.HandleQuarantine)
	mux.HandleFunc("/admin/quarantine/", admin.HandleQuarantineEntry)
	mux.HandleFunc("/admin/stats", admin.HandleStats)

	mux.HandleFunc("/healthz", admin.Health)
	mux.HandleFunc("/readyz", admin.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
