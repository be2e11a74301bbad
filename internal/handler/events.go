package handler

import (
	"net/http"

	"peoplecounter/internal/config"
	"peoplecounter/internal/dto"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/occupancy"
	"peoplecounter/internal/repository"
)

const (
	// DefaultEventsLimit caps event listings when no limit is requested.
	DefaultEventsLimit = 100
	// MaxEventsLimit is the largest page the events endpoint returns.
	MaxEventsLimit = 1000
	// AllStreams selects every stream in history queries.
	AllStreams = "all"
)

// EventsData is the response of the events endpoint.
type EventsData struct {
	Events interface{} `json:"events"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// GetEventsHandler returns recorded occupancy events. Query parameters:
// stream (defaults to the running stream, "all" for every stream), kind,
// since, until, limit and offset.
func GetEventsHandler(cfg *config.Config, logger *logger.Logger, repo repository.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		kind := q.Get("kind")
		if kind != "" {
			if _, err := occupancy.ParseEventKind(kind); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		since, err := parseTime(q.Get("since"))
		if err != nil {
			http.Error(w, "Invalid since: "+err.Error(), http.StatusBadRequest)
			return
		}
		until, err := parseTime(q.Get("until"))
		if err != nil {
			http.Error(w, "Invalid until: "+err.Error(), http.StatusBadRequest)
			return
		}

		limit := atoiDefault(q.Get("limit"), DefaultEventsLimit)
		if limit > MaxEventsLimit {
			limit = MaxEventsLimit
		}

		filter := &dto.EventFilters{
			StreamID: streamParam(q.Get("stream"), cfg.StreamID),
			Kind:     kind,
			Since:    since,
			Until:    until,
			Limit:    limit,
			Offset:   atoiDefault(q.Get("offset"), 0),
		}

		events, err := repo.List(filter)
		if err != nil {
			logger.Error("Error querying occupancy events: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, logger, EventsData{Events: events, Limit: filter.Limit, Offset: filter.Offset})
	}
}

// SummaryHandler returns the aggregated history of a stream.
func SummaryHandler(cfg *config.Config, logger *logger.Logger, repo repository.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := repo.Summary(streamParam(r.URL.Query().Get("stream"), cfg.StreamID))
		if err != nil {
			logger.Error("Error summarizing occupancy events: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, summary)
	}
}

// StreamsHandler lists the streams present in the history.
func StreamsHandler(logger *logger.Logger, repo repository.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streams, err := repo.GetStreams()
		if err != nil {
			logger.Error("Error listing streams: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if streams == nil {
			streams = []string{}
		}
		writeJSON(w, logger, streams)
	}
}

// ClearEventsHandler deletes the whole occupancy history.
func ClearEventsHandler(logger *logger.Logger, repo repository.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost, http.MethodDelete) {
			return
		}
		if err := repo.DeleteAll(); err != nil {
			logger.Error("Error clearing occupancy events: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		logger.Info("Occupancy history cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}

func streamParam(v, running string) string {
	switch v {
	case "":
		return running
	case AllStreams:
		return ""
	default:
		return v
	}
}
