package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"peoplecounter/internal/config"
	"peoplecounter/internal/dto"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/model"
)

type fakeRepo struct {
	events    []model.OccupancyEvent
	filter    *dto.EventFilters
	summaryID string
	deleted   bool
	err       error
}

func (f *fakeRepo) Insert(*model.OccupancyEvent) (int64, error) { return 0, nil }
func (f *fakeRepo) InsertBatch([]model.OccupancyEvent) error    { return nil }
func (f *fakeRepo) GetStreams() ([]string, error)               { return nil, f.err }
func (f *fakeRepo) List(filter *dto.EventFilters) ([]model.OccupancyEvent, error) {
	f.filter = filter
	return f.events, f.err
}
func (f *fakeRepo) Summary(streamID string) (*dto.Summary, error) {
	f.summaryID = streamID
	if f.err != nil {
		return nil, f.err
	}
	return &dto.Summary{StreamID: streamID, Entries: 3, PeakCount: 2}, nil
}
func (f *fakeRepo) DeleteAll() error {
	f.deleted = true
	return f.err
}

type fixedStatus dto.Status

func (s fixedStatus) Status() dto.Status { return dto.Status(s) }

var testConfig = &config.Config{StreamID: "lobby"}

// ========================================
// Helpers
// ========================================

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
	}

	for _, tt := range tests {
		if result := atoiDefault(tt.input, tt.def); result != tt.expected {
			t.Errorf("atoiDefault(%q, %d) = %d, expected %d", tt.input, tt.def, result, tt.expected)
		}
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"", time.Time{}, false},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"2026-03-01T12:30:00Z", time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC), false},
		{"yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := parseTime(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.expected) {
			t.Errorf("parseTime(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestStreamParam(t *testing.T) {
	if streamParam("", "lobby") != "lobby" {
		t.Error("Expected running stream by default")
	}
	if streamParam("all", "lobby") != "" {
		t.Error("Expected empty stream for all")
	}
	if streamParam("garage", "lobby") != "garage" {
		t.Error("Expected explicit stream")
	}
}

// ========================================
// Events
// ========================================

func TestGetEventsHandler_BuildsFilter(t *testing.T) {
	repo := &fakeRepo{events: []model.OccupancyEvent{{ID: 1, Kind: "total", Value: 1}}}
	h := GetEventsHandler(testConfig, logger.Discard(), repo)

	req := httptest.NewRequest(http.MethodGet, "/api/events?kind=duration&since=2026-03-01&limit=5000&offset=10", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	f := repo.filter
	if f.StreamID != "lobby" || f.Kind != "duration" || f.Limit != MaxEventsLimit || f.Offset != 10 {
		t.Errorf("Unexpected filter %+v", f)
	}
	if !f.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected since %v", f.Since)
	}

	var body struct {
		Events []model.OccupancyEvent `json:"events"`
		Limit  int                    `json:"limit"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(body.Events) != 1 || body.Limit != MaxEventsLimit {
		t.Errorf("Unexpected body %+v", body)
	}
}

func TestGetEventsHandler_BadRequests(t *testing.T) {
	tests := []string{
		"/api/events?kind=people",
		"/api/events?since=tomorrow",
		"/api/events?until=13/01/2026",
	}

	for _, url := range tests {
		rec := httptest.NewRecorder()
		GetEventsHandler(testConfig, logger.Discard(), &fakeRepo{})(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rec.Code)
		}
	}
}

func TestGetEventsHandler_RepositoryError(t *testing.T) {
	rec := httptest.NewRecorder()
	repo := &fakeRepo{err: errors.New("locked")}
	GetEventsHandler(testConfig, logger.Discard(), repo)(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestSummaryHandler(t *testing.T) {
	repo := &fakeRepo{}
	rec := httptest.NewRecorder()
	SummaryHandler(testConfig, logger.Discard(), repo)(rec, httptest.NewRequest(http.MethodGet, "/api/summary?stream=all", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if repo.summaryID != "" {
		t.Errorf("Expected all streams, got %q", repo.summaryID)
	}

	var summary dto.Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if summary.Entries != 3 || summary.PeakCount != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}
}

func TestStreamsHandler_EmptyList(t *testing.T) {
	rec := httptest.NewRecorder()
	StreamsHandler(logger.Discard(), &fakeRepo{})(rec, httptest.NewRequest(http.MethodGet, "/api/streams", nil))

	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Expected empty JSON list, got %s", rec.Body.String())
	}
}

func TestClearEventsHandler(t *testing.T) {
	tests := []struct {
		method   string
		expected int
		deleted  bool
	}{
		{http.MethodGet, http.StatusMethodNotAllowed, false},
		{http.MethodPost, http.StatusNoContent, true},
		{http.MethodDelete, http.StatusNoContent, true},
	}

	for _, tt := range tests {
		repo := &fakeRepo{}
		rec := httptest.NewRecorder()
		ClearEventsHandler(logger.Discard(), repo)(rec, httptest.NewRequest(tt.method, "/api/events/clear", nil))

		if rec.Code != tt.expected || repo.deleted != tt.deleted {
			t.Errorf("%s: expected %d/%v, got %d/%v", tt.method, tt.expected, tt.deleted, rec.Code, repo.deleted)
		}
	}
}

// ========================================
// Status
// ========================================

func TestStatusHandler(t *testing.T) {
	status := fixedStatus{StreamID: "lobby", State: "running", Frames: 42, TotalCount: 3}
	rec := httptest.NewRecorder()
	StatusHandler(status, logger.Discard())(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}
	var got dto.Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if got.Frames != 42 || got.TotalCount != 3 || got.State != "running" {
		t.Errorf("Unexpected status %+v", got)
	}
}

// ========================================
// Logs
// ========================================

func TestLogsHandlers(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewLogger(&config.Config{LogDirectory: dir})
	defer log.Close()

	log.Warning("encoder slow")

	rec := httptest.NewRecorder()
	ShowLogsHandler(log, logger.WarningFile)(rec, httptest.NewRequest(http.MethodGet, "/logs/warning", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "encoder slow") {
		t.Errorf("Expected warning log content, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ClearLogsHandler(log, logger.WarningFile)(rec, httptest.NewRequest(http.MethodPost, "/logs/warning/clear", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	data, _ := os.ReadFile(filepath.Join(dir, logger.WarningFile))
	if len(data) != 0 {
		t.Errorf("Expected cleared log, got %q", data)
	}

	rec = httptest.NewRecorder()
	ShowLogsHandler(log, "missing.log")(rec, httptest.NewRequest(http.MethodGet, "/logs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
