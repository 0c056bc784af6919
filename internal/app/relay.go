package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"visionrelay/internal/config"
	"visionrelay/internal/logger"
	"visionrelay/internal/middleware"
	"visionrelay/internal/routes"
	"visionrelay/internal/services/relay"
	"visionrelay/internal/services/relay/camera"
	"visionrelay/internal/services/websocket"
	"visionrelay/internal/web"
)

// Relay is the camera relay process.
type Relay struct {
	config *config.RelayConfig
	logger *logger.Logger
	source *camera.Source
	client *relay.Client
	hub    *websocket.HubService
	stream relay.StreamOptions
}

// NewRelay opens the camera and prepares the detection client.
func NewRelay(cfg *config.RelayConfig, log *logger.Logger) (*Relay, error) {
	policy, err := relay.ParsePolicy(cfg.FailurePolicy)
	if err != nil {
		return nil, err
	}

	source, err := camera.Open(cfg.CameraDevice, cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	log.Info("Opened capture device %s", cfg.CameraDevice)

	hub := websocket.NewHubService(log)
	r := &Relay{
		config: cfg,
		logger: log,
		source: source,
		client: relay.NewClient(cfg.DetectorURL, time.Duration(cfg.DetectTimeout)*time.Second),
		hub:    hub,
	}
	r.stream = relay.StreamOptions{
		Policy:        policy,
		RetryAttempts: cfg.RetryAttempts,
		Observer:      r.broadcast,
	}
	return r, nil
}

func (r *Relay) broadcast(result relay.FrameResult) {
	if err := r.hub.BroadcastJSON(result); err != nil {
		r.logger.Error("Failed to publish frame result: %v", err)
	}
}

// Run serves the dashboard and the video feed until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	defer func() {
		if err := r.source.Close(); err != nil {
			r.logger.Error("Failed to release capture device: %v", err)
		}
	}()

	auth := middleware.NewAuthenticator(r.config.Password)
	router := routes.SetupRelayRoutes(routes.RelayDeps{
		Source: r.source,
		Client: r.client,
		Stream: r.stream,
		Hub:    r.hub,
		Auth:   auth,
		Dashboard: web.Dashboard{
			DetectorURL: r.client.BaseURL(),
			AuthEnabled: auth.Enabled(),
		},
		Logger:      r.logger,
		CORSOrigins: r.config.CORSOrigins,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.hub.Run(ctx)
		return nil
	})
	serve(ctx, g, newServer(ctx, r.config.Port, router), r.logger)

	r.logger.Info("Relay ready: detector %s, failure policy %s, login %v",
		r.config.DetectorURL, r.stream.Policy, auth.Enabled())
	return g.Wait()
}
