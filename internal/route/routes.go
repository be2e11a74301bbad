package route

import (
	"net/http"

	"peoplecounter/internal/config"
	"peoplecounter/internal/handler"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/middleware"
	"peoplecounter/internal/repository"
)

// SetupRoutes registers the status, history, live and log endpoints and wraps
// the mux with the token middleware. History endpoints are only registered
// when repo is non-nil.
func SetupRoutes(cfg *config.Config, logger *logger.Logger, status handler.StatusSource,
	hub handler.ViewerHub, repo repository.EventRepository) http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/status", handler.StatusHandler(status, logger))
	mux.HandleFunc("/api/live", handler.LiveWebsocketHandler(hub, logger))

	if repo != nil {
		mux.HandleFunc("/api/events", handler.GetEventsHandler(cfg, logger, repo))
		mux.HandleFunc("/api/events/clear", handler.ClearEventsHandler(logger, repo))
		mux.HandleFunc("/api/summary", handler.SummaryHandler(cfg, logger, repo))
		mux.HandleFunc("/api/streams", handler.StreamsHandler(logger, repo))
	}

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowLogsHandler(logger, "info.log"))
	mux.HandleFunc("/logs/warning", handler.ShowLogsHandler(logger, "warning.log"))
	mux.HandleFunc("/logs/error", handler.ShowLogsHandler(logger, "error.log"))

	mux.HandleFunc("/logs/info/clear", handler.ClearLogsHandler(logger, "info.log"))
	mux.HandleFunc("/logs/warning/clear", handler.ClearLogsHandler(logger, "warning.log"))
	mux.HandleFunc("/logs/error/clear", handler.ClearLogsHandler(logger, "error.log"))

	// Apply middleware
	return middleware.TokenAuthMiddleware(cfg.APIToken)(mux)
}
