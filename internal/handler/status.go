package handler

import (
	"net/http"

	"peoplecounter/internal/dto"
	"peoplecounter/internal/logger"
)

// StatusSource reports the live state of the counter.
type StatusSource interface {
	Status() dto.Status
}

// StatusHandler returns the pipeline, telemetry and recorder statistics.
func StatusHandler(source StatusSource, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, source.Status())
	}
}
