package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (run and job status events)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Orchestration routes
	mux.HandleFunc("/orchestrate", s.app.OrchestrateHandler.RootRoute)          // POST (start), GET (list)
	mux.HandleFunc("/orchestrate/signal", s.app.OrchestrateHandler.SignalHandler) // POST - resume a paused run
	mux.HandleFunc("/orchestrate/", s.app.OrchestrateHandler.RunRoutes)         // GET /{runId}, POST /{runId}/cancel

	// Worker routes
	mux.HandleFunc("/workers/", s.app.WorkerHandler.Routes) // POST /{id}, /{id}/job, /{id}/update, /{id}/webhook, GET /{id}/{jobId}

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/plans", s.app.APIHandler.PlansHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
