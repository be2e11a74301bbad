package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"peoplecounter/internal/config"
	"peoplecounter/internal/dto"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/pipeline"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/repository/sqlite"
	"peoplecounter/internal/route"
	"peoplecounter/internal/service/ai"
	"peoplecounter/internal/service/capture"
	"peoplecounter/internal/service/egress"
	"peoplecounter/internal/service/overlay"
	"peoplecounter/internal/service/storage"
	"peoplecounter/internal/service/telemetry"
	"peoplecounter/internal/service/websocket"
)

const (
	mqttConnectTimeout = 10 * time.Second
	shutdownTimeout    = 5 * time.Second
)

type App struct {
	config   *config.Config
	logger   *logger.Logger
	driver   *pipeline.Driver
	mqtt     *telemetry.MQTTSink
	hub      *websocket.HubService
	recorder *storage.Recorder
	db       *sqlite.DB
	events   repository.EventRepository
	server   *http.Server
}

// NewApp loads the model, opens the input and the egress, and wires the
// telemetry sinks. Everything acquired is released again on error.
func NewApp(cfg *config.Config, logger *logger.Logger) (app *App, err error) {
	a := &App{config: cfg, logger: logger}

	var cleanup []func() error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	detector := ai.NewDetectorService(cfg, logger)
	if _, err := detector.Load(); err != nil {
		return nil, fmt.Errorf("%s: load model: %w", pipeline.StageInference, err)
	}
	cleanup = append(cleanup, detector.Release)

	source, err := capture.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pipeline.StageCapture, err)
	}
	cleanup = append(cleanup, source.Close)

	annotator := overlay.New()

	var video pipeline.VideoSink = egress.Discard{Still: annotator, StillPath: cfg.OutputImage}
	if !source.IsStill() && cfg.EgressURL != "" {
		stream, err := egress.Start(cfg, source.Width(), source.Height(), source.FPS(), annotator, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pipeline.StageEgress, err)
		}
		cleanup = append(cleanup, stream.Close)
		video = stream
	} else if cfg.EgressURL == "" {
		logger.Info("Video egress disabled")
	}

	sinks := []telemetry.Sink{}
	if cfg.MQTTHost != "" {
		a.mqtt = telemetry.NewMQTTSink(cfg, logger)
		sinks = append(sinks, a.mqtt)
	}

	a.hub = websocket.NewHubService(logger)
	sinks = append(sinks, a.hub)

	if cfg.DatabasePath != "" {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open history database: %w", err)
		}
		cleanup = append(cleanup, db.Close)
		a.db = db
		a.events = sqlite.NewEventRepository(db)
		a.recorder = storage.NewRecorder(cfg, logger, a.events)
		sinks = append(sinks, a.recorder)
	}

	opts := pipeline.Options{
		Detection:        cfg.DetectionOptions(),
		InferenceTimeout: cfg.InferenceTimeout,
		PerfCounts:       cfg.PerfCounts,
	}
	a.driver = pipeline.NewDriver(source, detector, annotator, video, telemetry.NewFanout(sinks...), opts, logger)

	if cfg.HTTPPort > 0 {
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           route.SetupRoutes(cfg, logger, a, a.hub, a.events),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

// Run starts the background services and processes the input until it ends,
// ctx is cancelled or a stage fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.mqtt != nil {
		connectCtx, cancelConnect := context.WithTimeout(ctx, mqttConnectTimeout)
		if err := a.mqtt.Connect(connectCtx); err != nil {
			a.logger.Warning("MQTT broker %s unavailable, telemetry will retry in background: %v", a.config.MQTTBroker(), err)
		}
		cancelConnect()
	}

	go a.hub.Run(ctx)
	if a.recorder != nil {
		go a.recorder.Run(ctx)
	}

	if a.server != nil {
		go func() {
			a.logger.Info("HTTP server listening on %s", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("HTTP server error: %v", err)
			}
		}()
	}

	a.logger.Info("People counter started (stream: %s, input: %s, model: %s)", a.config.StreamID, a.config.Input, a.config.ModelPath)

	err := a.driver.Run(ctx)

	if a.server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warning("HTTP server shutdown: %v", err)
		}
		cancelShutdown()
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warning("Failed to close history database: %v", err)
		}
	}

	stats := a.driver.Stats()
	a.logger.Info("People counter stopped after %d frames (total count: %d, publish failures: %d)",
		stats.Frames, stats.TotalCount, stats.PublishFailures)
	return err
}

// Status reports the live state of the counter.
func (a *App) Status() dto.Status {
	stats := a.driver.Stats()
	status := dto.Status{
		StreamID:        a.config.StreamID,
		Input:           a.config.Input,
		State:           stats.State.String(),
		StartedAt:       stats.StartedAt,
		Frames:          stats.Frames,
		LastLatencyMs:   stats.LastLatency.Seconds() * 1000,
		CurrentCount:    stats.LastCount,
		TotalCount:      stats.TotalCount,
		Events:          stats.Events,
		PublishFailures: stats.PublishFailures,
		Viewers:         a.hub.GetClientCount(),
	}

	if a.mqtt != nil {
		mqttStats := a.mqtt.Stats()
		status.MQTT = dto.MQTTStatus{
			Enabled:   true,
			Connected: mqttStats.Connected,
			Published: mqttStats.Published,
			Errors:    mqttStats.Errors,
		}
	}

	if a.recorder != nil {
		recorderStats := a.recorder.Stats()
		status.Recorder = dto.RecorderStatus{
			Enabled: true,
			Pending: recorderStats.Pending,
			Stored:  recorderStats.Stored,
			Failed:  recorderStats.Failed,
		}
	}

	return status
}
