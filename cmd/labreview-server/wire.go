package main

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/labreview/labreview/internal/config"
	"github.com/labreview/labreview/internal/domain/auditlog"
	"github.com/labreview/labreview/internal/domain/normalization"
	"github.com/labreview/labreview/internal/domain/pipeline"
	"github.com/labreview/labreview/internal/domain/reference"
	"github.com/labreview/labreview/internal/domain/review"
	"github.com/labreview/labreview/internal/domain/risk"
	"github.com/labreview/labreview/internal/domain/trend"
	"github.com/labreview/labreview/internal/platform/events"
	"github.com/labreview/labreview/internal/platform/lock"
)

// backends are the storage and messaging implementations a process runs
// against: Postgres and Redis when serving, in-memory for offline runs.
type backends struct {
	store     reference.Store
	records   normalization.Repository
	audit     auditlog.Sink
	locker    lock.Locker
	reviews   review.Repository
	publisher events.Publisher
}

// services is everything built on top of the backends.
type services struct {
	normalizer *normalization.Service
	trends     *trend.Service
	reviews    *review.Service
	runner     *pipeline.Runner
}

func buildServices(cfg *config.Config, b backends, logger zerolog.Logger) *services {
	normalizer := normalization.NewService(b.store, cfg.ConfidenceThreshold, normalization.Bounds{
		Min: cfg.ValueSanityMin,
		Max: cfg.ValueSanityMax,
	})
	trends := trend.NewService(b.records, b.locker, trend.NewCalculator(cfg.TrendStabilityThreshold), cfg.TrendLookback())
	reviews := review.NewService(b.reviews, b.publisher, logger)

	runner := pipeline.NewRunner(pipeline.Deps{
		Normalizer:   normalizer,
		Records:      b.records,
		Audit:        b.audit,
		Trends:       trends,
		Classifier:   risk.NewClassifier(cfg.TrendRapidChangeThreshold),
		Interactions: risk.NewInteractionDetector(b.store),
		Gate:         review.NewGate(cfg.ConfidenceThreshold),
		Reviews:      reviews,
	}, cfg.PipelineConcurrency, logger)

	return &services{
		normalizer: normalizer,
		trends:     trends,
		reviews:    reviews,
		runner:     runner,
	}
}

// auditPipeline stacks batching over retries over the durable sink.
func auditPipeline(cfg *config.Config, durable auditlog.Sink, logger zerolog.Logger) *auditlog.BufferedSink {
	retrying := auditlog.NewRetrying(durable, cfg.AuditRetryAttempts, 50*time.Millisecond, logger)
	return auditlog.NewBufferedSink(retrying, cfg.AuditBatchSize, cfg.AuditFlushInterval, logger)
}

// offlineBackends runs everything in memory against a reference snapshot.
func offlineBackends(store reference.Store, logger zerolog.Logger) backends {
	return backends{
		store:     store,
		records:   normalization.NewMemoryRepository(),
		audit:     auditlog.NewMemorySink(),
		locker:    lock.NewKeyedMutex(),
		reviews:   review.NewMemoryRepository(),
		publisher: events.NewLogPublisher(logger),
	}
}
