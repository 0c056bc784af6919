package app

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"visionrelay/internal/config"
	"visionrelay/internal/logger"
	"visionrelay/internal/repository"
	"visionrelay/internal/repository/sqlite"
	"visionrelay/internal/routes"
	"visionrelay/internal/services"
	"visionrelay/internal/services/ai"
	"visionrelay/internal/services/ai/onnx"
	"visionrelay/internal/services/ai/opencv"
	"visionrelay/internal/services/events"
	"visionrelay/internal/services/storage"
)

// Detector is the detection service process.
type Detector struct {
	config    *config.DetectorConfig
	logger    *logger.Logger
	service   *services.DetectionService
	buffer    *storage.BufferService
	archive   *sqlite.DB
	publisher *events.Publisher
	onnxEnv   bool

	// routesArchive stays a nil interface when archiving is off.
	routesArchive repository.LogRepository
}

// NewDetector loads every configured model and the optional log sinks.
func NewDetector(cfg *config.DetectorConfig, log *logger.Logger) (*Detector, error) {
	d := &Detector{config: cfg, logger: log}

	layout, err := ai.ParseLayout(cfg.OutputLayout)
	if err != nil {
		return nil, err
	}
	opts := ai.Options{
		InputSize:           cfg.InputSize,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		NMSThreshold:        cfg.NMSThreshold,
		Labels:              ai.COCOLabels,
		Layout:              layout,
	}
	if cfg.LabelsPath != "" {
		labels, err := ai.LoadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		opts.Labels = labels
	}

	if cfg.Backend == config.BackendONNX {
		if err := onnx.InitEnvironment(cfg.ONNXLibraryPath); err != nil {
			return nil, err
		}
		d.onnxEnv = true
	}

	entries := make([]services.NamedDetector, 0, len(cfg.Models))
	for _, spec := range cfg.Models {
		det, err := d.loadModel(spec, opts)
		if err != nil {
			services.CloseDetectors(entries)
			d.close()
			return nil, err
		}
		log.Info("Loaded model %s from %s (%s)", spec.Name, spec.Path, cfg.Backend)
		entries = append(entries, services.NamedDetector{Name: spec.Name, Detector: det})
	}

	// NewRegistry closes entries itself when it fails.
	registry, err := services.NewRegistry(cfg.DefaultModel, entries)
	if err != nil {
		d.close()
		return nil, err
	}

	var sinks []storage.Sink
	var archive repository.LogRepository
	if cfg.ArchiveDBPath != "" {
		db, err := sqlite.New(cfg.ArchiveDBPath)
		if err != nil {
			registry.Close()
			d.close()
			return nil, errors.Wrap(err, "failed to open log archive")
		}
		d.archive = db
		repo := sqlite.NewLogRepository(db)
		archive = repo
		sinks = append(sinks, repo)
		log.Info("Archiving detection logs to %s", cfg.ArchiveDBPath)
	}
	if cfg.NatsURL != "" {
		pub, err := events.Connect(cfg.NatsURL, cfg.NatsSubjectPrefix)
		if err != nil {
			registry.Close()
			d.close()
			return nil, err
		}
		d.publisher = pub
		sinks = append(sinks, pub)
		log.Info("Publishing detection logs to %s on %s.>", cfg.NatsURL, cfg.NatsSubjectPrefix)
	}

	d.buffer = storage.NewBufferService(cfg.LogCapacity, log, sinks...)
	d.service = services.NewDetectionService(registry, d.buffer, log)
	d.routesArchive = archive
	return d, nil
}

func (d *Detector) loadModel(spec config.ModelSpec, opts ai.Options) (ai.Detector, error) {
	switch d.config.Backend {
	case config.BackendONNX:
		return onnx.Load(spec.Path, opts)
	default:
		return opencv.Load(spec.Path, opts, d.logger)
	}
}

// Run serves the API until ctx is done.
func (d *Detector) Run(ctx context.Context) error {
	defer d.close()

	router := routes.SetupDetectorRoutes(routes.DetectorDeps{
		Service:     d.service,
		Archive:     d.routesArchive,
		Logger:      d.logger,
		CORSOrigins: d.config.CORSOrigins,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.buffer.Run(ctx, storage.FlushInterval)
		return nil
	})
	serve(ctx, g, newServer(ctx, d.config.Port, router), d.logger)

	d.logger.Info("Detection service ready: models %v, current %s", d.service.ListModels(), d.service.CurrentModel())
	return g.Wait()
}

func (d *Detector) close() {
	var err error
	if d.service != nil {
		err = multierr.Append(err, d.service.Close())
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.archive != nil {
		err = multierr.Append(err, d.archive.Close())
	}
	if d.onnxEnv {
		onnx.DestroyEnvironment()
	}
	if err != nil {
		d.logger.Error("Shutdown: %v", err)
	}
}
