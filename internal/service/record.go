package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"wisefido-patient-record/internal/cache"
	"wisefido-patient-record/internal/config"
	"wisefido-patient-record/internal/database"
	"wisefido-patient-record/internal/models"
	"wisefido-patient-record/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordService owns the versioned patient records: every push appends
// to the history ledger, mirrors the new head onto the current-state
// row and trims the ledger to the retention limit; rollback walks the
// ledger backward and erases the superseded suffix. Every
// multi-statement operation runs in a single transaction.
type RecordService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	patients    *repository.PatientRepository
	history     *repository.HistoryRepository
	cache       *cache.Manager
}

// NewRecordService connects to PostgreSQL (and Redis when the
// current-state cache is enabled) and wires the repositories.
func NewRecordService(cfg *config.Config, logger *zap.Logger) (*RecordService, error) {
	db, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var redisClient *redis.Client
	var kv cache.KVStore
	if cfg.Record.Cache.Enabled {
		redisClient = cache.NewRedisClient(&cfg.Redis)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		kv = cache.NewRedisKVStore(redisClient)
	}

	svc := NewRecordServiceWithDB(cfg, logger, db, kv)
	svc.redisClient = redisClient
	return svc, nil
}

// NewRecordServiceWithDB wires the service onto an existing database
// handle and optional KV store. Used by tests and by callers that
// manage connections themselves.
func NewRecordServiceWithDB(cfg *config.Config, logger *zap.Logger, db *sql.DB, kv cache.KVStore) *RecordService {
	svc := &RecordService{
		config:   cfg,
		logger:   logger,
		db:       db,
		patients: repository.NewPatientRepository(db, logger),
		history:  repository.NewHistoryRepository(db, logger),
	}

	if kv != nil {
		ttl := time.Duration(cfg.Record.Cache.TTLSeconds) * time.Second
		svc.cache = cache.NewManager(kv, ttl, logger)
	}

	return svc
}

// EnsureSchema creates the tables if they do not exist yet
func (s *RecordService) EnsureSchema(ctx context.Context) error {
	return repository.EnsureSchema(ctx, s.db)
}

// Close releases the store connections
func (s *RecordService) Close() error {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}
	return database.Close(s.db)
}

// PushDHP upserts the patient's current DHP fields, appends a history
// snapshot and trims the ledger, all in one transaction. Returns the
// patient alias the document belongs to.
func (s *RecordService) PushDHP(ctx context.Context, doc *models.DHPDocument) (patientName string, err error) {
	if doc == nil || doc.Hard.Alias == "" {
		return "", ErrMissingAlias
	}
	patientName = doc.Hard.Alias

	start := time.Now()
	defer func() { s.observe("push_dhp", patientName, start, err) }()

	snap := doc.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	patients := s.patients.WithTx(tx)
	history := s.history.WithTx(tx)

	if err = patients.UpsertDHP(ctx, patientName, snap); err != nil {
		return "", err
	}
	if err = history.AppendDHP(ctx, patientName, snap); err != nil {
		return "", err
	}
	if err = history.TrimDHP(ctx, patientName, s.config.Record.HistoryLimit); err != nil {
		return "", err
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit dhp push: %w", err)
	}

	s.cacheDHP(ctx, patientName, doc)
	return patientName, nil
}

// PushPlanStatus overwrites the patient's current plan, appends a
// history snapshot and trims the ledger, all in one transaction. A
// plan push never creates a patient: pushing for an unknown patient
// fails with ErrPatientNotFound and mutates nothing.
func (s *RecordService) PushPlanStatus(ctx context.Context, patientName string, plan models.PlanDocument) (err error) {
	start := time.Now()
	defer func() { s.observe("push_plan_status", patientName, start, err) }()

	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	patients := s.patients.WithTx(tx)
	history := s.history.WithTx(tx)

	found, err := patients.SetPlan(ctx, patientName, raw)
	if err != nil {
		return err
	}
	if !found {
		err = fmt.Errorf("cannot push plan for %q: %w", patientName, ErrPatientNotFound)
		return err
	}

	if err = history.AppendPlan(ctx, patientName, raw); err != nil {
		return err
	}
	if err = history.TrimPlan(ctx, patientName, s.config.Record.HistoryLimit); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan push: %w", err)
	}

	s.cachePlan(ctx, patientName, plan)
	return nil
}

// RollbackDHP moves the patient's DHP backward by steps versions and
// permanently deletes the superseded entries. Projection and deletion
// share one transaction: a partial application would leave ledger
// entries newer than "current" with no path back to them.
func (s *RecordService) RollbackDHP(ctx context.Context, patientName string, steps int) (err error) {
	if steps <= 0 {
		return ErrInvalidSteps
	}

	start := time.Now()
	defer func() { s.observe("rollback_dhp", patientName, start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	history := s.history.WithTx(tx)

	entries, err := history.RecentDHP(ctx, patientName, steps+1)
	if err != nil {
		return err
	}
	if len(entries) <= steps {
		err = &InsufficientHistoryError{
			Kind:      KindDHP,
			Patient:   patientName,
			Requested: steps,
			Available: previousVersions(len(entries)),
		}
		return err
	}

	// entries is newest-first: entries[steps] becomes the new current
	// state, everything before it is discarded.
	target := entries[steps]
	ids := make([]int64, 0, steps)
	for _, entry := range entries[:steps] {
		ids = append(ids, entry.HistoryID)
	}

	if err = s.patients.WithTx(tx).UpdateDHP(ctx, patientName, target.Snapshot); err != nil {
		return err
	}
	if err = history.DeleteDHPByIDs(ctx, ids); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dhp rollback: %w", err)
	}

	s.cacheDHP(ctx, patientName, models.NewDHPDocument(patientName, target.Snapshot))
	return nil
}

// RollbackPlan moves the patient's plan backward by steps versions and
// permanently deletes the superseded entries.
func (s *RecordService) RollbackPlan(ctx context.Context, patientName string, steps int) (err error) {
	if steps <= 0 {
		return ErrInvalidSteps
	}

	start := time.Now()
	defer func() { s.observe("rollback_plan", patientName, start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	history := s.history.WithTx(tx)

	entries, err := history.RecentPlan(ctx, patientName, steps+1)
	if err != nil {
		return err
	}
	if len(entries) <= steps {
		err = &InsufficientHistoryError{
			Kind:      KindPlan,
			Patient:   patientName,
			Requested: steps,
			Available: previousVersions(len(entries)),
		}
		return err
	}

	target := entries[steps]
	ids := make([]int64, 0, steps)
	for _, entry := range entries[:steps] {
		ids = append(ids, entry.HistoryID)
	}

	found, err := s.patients.WithTx(tx).SetPlan(ctx, patientName, target.Snapshot)
	if err != nil {
		return err
	}
	if !found {
		err = fmt.Errorf("cannot roll back plan for %q: %w", patientName, ErrPatientNotFound)
		return err
	}
	if err = history.DeletePlanByIDs(ctx, ids); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan rollback: %w", err)
	}

	var plan models.PlanDocument
	if jsonErr := json.Unmarshal(target.Snapshot, &plan); jsonErr == nil {
		s.cachePlan(ctx, patientName, plan)
	}
	return nil
}

// previousVersions converts a fetched entry count into the number of
// previous versions: the newest entry is the current state, not a
// version to go back to.
func previousVersions(fetched int) int {
	if fetched < 1 {
		return 0
	}
	return fetched - 1
}

// GetDHP returns the current DHP document, or nil when the patient is
// unknown.
func (s *RecordService) GetDHP(ctx context.Context, patientName string) (doc *models.DHPDocument, err error) {
	start := time.Now()
	defer func() { s.observe("get_dhp", patientName, start, err) }()

	if s.cache != nil {
		if doc, err := s.cache.LookupDHP(ctx, patientName); err == nil {
			return doc, nil
		}
	}

	record, err := s.patients.GetDHP(ctx, patientName)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	doc = models.NewDHPDocument(record.PatientName, record.Snapshot)
	s.cacheDHP(ctx, patientName, doc)
	return doc, nil
}

// GetPlanStatus returns the current plan document, or nil when the
// patient is unknown or no plan was ever set.
func (s *RecordService) GetPlanStatus(ctx context.Context, patientName string) (plan models.PlanDocument, err error) {
	start := time.Now()
	defer func() { s.observe("get_plan_status", patientName, start, err) }()

	if s.cache != nil {
		if cached, cacheErr := s.cache.LookupPlan(ctx, patientName); cacheErr == nil {
			return cached, nil
		}
	}

	raw, err := s.patients.GetPlan(ctx, patientName)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	if err = json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored plan: %w", err)
	}

	s.cachePlan(ctx, patientName, plan)
	return plan, nil
}

// ExportDHP writes the current DHP document as indented JSON. Fails
// with ErrPatientNotFound when the patient is unknown so callers can
// skip the export.
func (s *RecordService) ExportDHP(ctx context.Context, patientName string, w io.Writer) error {
	doc, err := s.GetDHP(ctx, patientName)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("cannot export dhp for %q: %w", patientName, ErrPatientNotFound)
	}

	return writeIndentedJSON(w, doc)
}

// ExportPlanStatus writes the current plan document as indented JSON
func (s *RecordService) ExportPlanStatus(ctx context.Context, patientName string, w io.Writer) error {
	plan, err := s.GetPlanStatus(ctx, patientName)
	if err != nil {
		return err
	}
	if plan == nil {
		return fmt.Errorf("cannot export plan status for %q: %w", patientName, ErrPatientNotFound)
	}

	return writeIndentedJSON(w, plan)
}

func writeIndentedJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return nil
}

// cacheDHP refreshes the current-state cache after a successful
// commit. Best effort: a cache failure never fails the operation.
func (s *RecordService) cacheDHP(ctx context.Context, patientName string, doc *models.DHPDocument) {
	if s.cache == nil {
		return
	}
	if err := s.cache.StoreDHP(ctx, patientName, doc); err != nil {
		s.logger.Warn("Failed to update dhp cache",
			zap.String("patient", patientName),
			zap.Error(err),
		)
	}
}

// cachePlan mirrors the committed plan into the cache. An empty
// document means the patient has no plan, so the key is dropped
// instead of cached: both read paths must agree that empty is absent.
func (s *RecordService) cachePlan(ctx context.Context, patientName string, plan models.PlanDocument) {
	if s.cache == nil {
		return
	}
	if len(plan) == 0 {
		if err := s.cache.DropPlan(ctx, patientName); err != nil {
			s.logger.Warn("Failed to drop plan cache",
				zap.String("patient", patientName),
				zap.Error(err),
			)
		}
		return
	}
	if err := s.cache.StorePlan(ctx, patientName, plan); err != nil {
		s.logger.Warn("Failed to update plan cache",
			zap.String("patient", patientName),
			zap.Error(err),
		)
	}
}

// observe emits one structured event per operation: name, id, patient,
// outcome and duration. Rendering is the log sink's concern.
func (s *RecordService) observe(op, patientName string, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("op_id", uuid.NewString()),
		zap.String("patient", patientName),
		zap.Duration("duration", time.Since(start)),
	}

	if err != nil {
		fields = append(fields, zap.String("outcome", "error"), zap.Error(err))
		s.logger.Warn("Operation failed", fields...)
		return
	}

	fields = append(fields, zap.String("outcome", "success"))
	s.logger.Info("Operation completed", fields...)
}
