// Package materialize creates stored test definitions and renders them into
// runnable plans.
package materialize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parm-bits/stress-admin-ui/internal/dataset"
	"github.com/parm-bits/stress-admin-ui/internal/definition"
	"github.com/parm-bits/stress-admin-ui/internal/logger"
	"github.com/parm-bits/stress-admin-ui/internal/storage"
	"github.com/parm-bits/stress-admin-ui/internal/testplan"
	"go.uber.org/zap"
)

var (
	// ErrInvalidRequest is returned when a request is missing required input.
	ErrInvalidRequest = errors.New("materialize: invalid request")
	// ErrCSVRequired is returned when a definition needs a dataset and none was given.
	ErrCSVRequired = errors.New("materialize: csv dataset required")
)

// Repository is the persistence the service needs.
type Repository interface {
	Create(ctx context.Context, d *definition.Definition) error
	FindByID(ctx context.Context, id uuid.UUID) (*definition.Definition, error)
	List(ctx context.Context) ([]definition.Definition, error)
	UpdateConfigs(ctx context.Context, id uuid.UUID, threadGroup, server string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Recorder receives pipeline statistics. *metrics.Exporter implements it.
type Recorder interface {
	RecordTransform(mode testplan.Mode, report testplan.Report, elapsed time.Duration)
	RecordConfigFallback(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransform(testplan.Mode, testplan.Report, time.Duration) {}
func (nopRecorder) RecordConfigFallback(string)                                   {}

// CreateRequest carries an uploaded plan and the configuration to apply.
// ThreadGroup and Server are JSON text in the persisted form; empty means
// defaults.
type CreateRequest struct {
	Name        string
	Description string
	Plan        []byte
	CSV         []byte
	RequiresCSV bool
	Priority    int
	ThreadGroup string
	Server      string
}

// Materialized is a rendered plan ready to hand to an execution backend.
type Materialized struct {
	Definition *definition.Definition
	Document   string
	Report     testplan.Report
	// Fallbacks names the configurations ("thread group", "server") that
	// could not be read and were replaced by defaults.
	Fallbacks []string
}

// Service coordinates storage, persistence and the transformation pipeline.
type Service struct {
	repo         Repository
	store        storage.ObjectStorage
	estimator    *dataset.Estimator
	downloadMode testplan.Mode
	recorder     Recorder
	logger       *zap.Logger
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithDownloadMode selects the pipeline mode used by Materialize. Creation
// always runs the full pipeline.
func WithDownloadMode(m testplan.Mode) Option {
	return func(s *Service) {
		s.downloadMode = m
	}
}

func WithEstimator(e *dataset.Estimator) Option {
	return func(s *Service) {
		s.estimator = e
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo Repository, store storage.ObjectStorage, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		store:        store,
		estimator:    dataset.NewEstimator(),
		downloadMode: testplan.ModeRewrite,
		recorder:     nopRecorder{},
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) DownloadMode() testplan.Mode {
	return s.downloadMode
}

// Create stores the plan and dataset, persists the definition and keeps the
// fully transformed plan as its materialized artifact.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Materialized, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if len(req.Plan) == 0 {
		return nil, fmt.Errorf("%w: plan is empty", ErrInvalidRequest)
	}
	if req.RequiresCSV && len(req.CSV) == 0 {
		return nil, ErrCSVRequired
	}

	d := &definition.Definition{
		ID:          uuid.New(),
		Name:        name,
		Description: req.Description,
		RequiresCSV: req.RequiresCSV,
		Priority:    req.Priority,
	}
	ctx, log := logger.WithDefinitionID(ctx, s.logger, d.ID.String())

	if len(req.CSV) > 0 {
		// The count is informational; an unreadable dataset is still stored.
		users, err := s.estimator.Estimate(bytes.NewReader(req.CSV))
		if err != nil {
			log.Warn("Could not estimate csv users", zap.Error(err))
		}
		d.UserCount = users
	}

	tg, srv, fallbacks := s.loadConfigs(req.ThreadGroup, req.Server, log)
	d.ThreadGroupConfig = tg.Encode()
	d.ServerConfig = srv.Encode()

	result, elapsed := s.transform(testplan.ModeFull, string(req.Plan), tg, srv)
	s.observe(log, testplan.ModeFull, result.Report, elapsed)

	d.PlanKey = objectKey(d.ID, "plan.jmx")
	d.MaterializedKey = objectKey(d.ID, "materialized.jmx")
	stored := []string{d.PlanKey}
	if err := s.store.Put(ctx, d.PlanKey, req.Plan, "application/xml"); err != nil {
		return nil, fmt.Errorf("store plan: %w", err)
	}
	if len(req.CSV) > 0 {
		d.CSVKey = objectKey(d.ID, "users.csv")
		if err := s.store.Put(ctx, d.CSVKey, req.CSV, "text/csv"); err != nil {
			s.cleanup(ctx, log, stored)
			return nil, fmt.Errorf("store csv: %w", err)
		}
		stored = append(stored, d.CSVKey)
	}
	if err := s.store.Put(ctx, d.MaterializedKey, []byte(result.Document), "application/xml"); err != nil {
		s.cleanup(ctx, log, stored)
		return nil, fmt.Errorf("store materialized plan: %w", err)
	}
	stored = append(stored, d.MaterializedKey)

	if err := s.repo.Create(ctx, d); err != nil {
		s.cleanup(ctx, log, stored)
		return nil, err
	}

	log.Info("Definition created",
		zap.String("name", d.Name),
		zap.Int("user_count", d.UserCount),
		zap.Int("warnings", len(result.Report.Warnings)),
	)
	return &Materialized{Definition: d, Document: result.Document, Report: result.Report, Fallbacks: fallbacks}, nil
}

// UpdateConfigs validates and persists new configuration for a definition.
// The stored artifacts are untouched; the change applies on the next
// Materialize.
func (s *Service) UpdateConfigs(ctx context.Context, id uuid.UUID, tg testplan.ThreadGroupConfig, srv testplan.ServerConfig) error {
	if err := tg.Validate(); err != nil {
		return fmt.Errorf("%w: thread group: %v", ErrInvalidRequest, err)
	}
	if err := srv.Validate(); err != nil {
		return fmt.Errorf("%w: server: %v", ErrInvalidRequest, err)
	}
	if err := s.repo.UpdateConfigs(ctx, id, tg.Encode(), srv.Encode()); err != nil {
		return err
	}
	s.logger.Info("Definition configuration updated", zap.String("definition_id", id.String()))
	return nil
}

// Materialize renders a stored definition for download. It starts from the
// materialized artifact when there is one and applies the stored
// configuration in the service's download mode.
func (s *Service) Materialize(ctx context.Context, id uuid.UUID) (*Materialized, error) {
	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, log := logger.WithDefinitionID(ctx, s.logger, d.ID.String())

	data, err := s.store.Get(ctx, d.SourceKey())
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}

	tg, srv, fallbacks := s.loadConfigs(d.ThreadGroupConfig, d.ServerConfig, log)
	result, elapsed := s.transform(s.downloadMode, string(data), tg, srv)
	s.observe(log, s.downloadMode, result.Report, elapsed)

	return &Materialized{Definition: d, Document: result.Document, Report: result.Report, Fallbacks: fallbacks}, nil
}

// Dataset returns the CSV stored with a definition, or nil when it has none.
func (s *Service) Dataset(ctx context.Context, id uuid.UUID) ([]byte, error) {
	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.CSVKey == "" {
		return nil, nil
	}
	return s.store.Get(ctx, d.CSVKey)
}

func (s *Service) List(ctx context.Context) ([]definition.Definition, error) {
	return s.repo.List(ctx)
}

// Delete removes a definition and its artifacts.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	_, log := logger.WithDefinitionID(ctx, s.logger, id.String())
	s.cleanup(ctx, log, []string{d.PlanKey, d.CSVKey, d.MaterializedKey})
	log.Info("Definition deleted", zap.String("name", d.Name))
	return nil
}

func (s *Service) loadConfigs(tgRaw, srvRaw string, log *zap.Logger) (testplan.ThreadGroupConfig, testplan.ServerConfig, []string) {
	var fallbacks []string
	tg := testplan.LoadThreadGroupConfig(tgRaw, log)
	if tg.Fallback {
		fallbacks = append(fallbacks, "thread group")
		s.recorder.RecordConfigFallback("thread group")
	}
	srv := testplan.LoadServerConfig(srvRaw, log)
	if srv.Fallback {
		fallbacks = append(fallbacks, "server")
		s.recorder.RecordConfigFallback("server")
	}
	return tg.Config, srv.Config, fallbacks
}

func (s *Service) transform(mode testplan.Mode, doc string, tg testplan.ThreadGroupConfig, srv testplan.ServerConfig) (testplan.Result, time.Duration) {
	p := testplan.NewPipeline(testplan.WithMode(mode), testplan.WithClock(s.now))
	start := time.Now()
	result := p.Transform(doc, tg, srv)
	return result, time.Since(start)
}

func (s *Service) observe(log *zap.Logger, mode testplan.Mode, report testplan.Report, elapsed time.Duration) {
	s.recorder.RecordTransform(mode, report, elapsed)

	for _, o := range report.Outcomes {
		switch o.Status {
		case testplan.StatusNotFound, testplan.StatusNoInsertionPoint:
			log.Warn("Plan property not applied", zap.Stringer("outcome", o))
		default:
			log.Debug("Plan property", zap.Stringer("outcome", o))
		}
	}
	for _, w := range report.Warnings {
		log.Warn("Plan structure warning", zap.String("code", string(w.Code)), zap.String("detail", w.Message))
	}
	log.Debug("Plan transformed", zap.String("mode", string(mode)), zap.Duration("elapsed", elapsed))
}

func (s *Service) cleanup(ctx context.Context, log *zap.Logger, keys []string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := s.store.Delete(ctx, k); err != nil {
			log.Warn("Failed to remove artifact", zap.String("key", k), zap.Error(err))
		}
	}
}

func objectKey(id uuid.UUID, name string) string {
	return path.Join("definitions", id.String(), name)
}
