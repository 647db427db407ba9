package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-patient-record/internal/models"

	"go.uber.org/zap"
)

// Manager caches the current-state projection of each patient. The
// database stays the source of truth; every entry carries a TTL so a
// stale value ages out even if a refresh was missed.
type Manager struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewManager creates a cache manager
func NewManager(kv KVStore, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

func dhpKey(patientName string) string {
	return fmt.Sprintf("patient-record:dhp:%s:current", patientName)
}

func planKey(patientName string) string {
	return fmt.Sprintf("patient-record:plan:%s:current", patientName)
}

// StoreDHP caches the current DHP document
func (m *Manager) StoreDHP(ctx context.Context, patientName string, doc *models.DHPDocument) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal dhp document: %w", err)
	}

	if err := m.kv.Set(ctx, dhpKey(patientName), string(jsonData), m.ttl); err != nil {
		return fmt.Errorf("failed to set dhp cache: %w", err)
	}

	m.logger.Debug("Updated dhp cache", zap.String("patient", patientName))
	return nil
}

// LookupDHP returns the cached DHP document, ErrCacheMiss when absent
func (m *Manager) LookupDHP(ctx context.Context, patientName string) (*models.DHPDocument, error) {
	val, err := m.kv.Get(ctx, dhpKey(patientName))
	if err != nil {
		return nil, err
	}

	var doc models.DHPDocument
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached dhp: %w", err)
	}

	return &doc, nil
}

// StorePlan caches the current plan document
func (m *Manager) StorePlan(ctx context.Context, patientName string, plan models.PlanDocument) error {
	jsonData, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan document: %w", err)
	}

	if err := m.kv.Set(ctx, planKey(patientName), string(jsonData), m.ttl); err != nil {
		return fmt.Errorf("failed to set plan cache: %w", err)
	}

	m.logger.Debug("Updated plan cache", zap.String("patient", patientName))
	return nil
}

// LookupPlan returns the cached plan document, ErrCacheMiss when
// absent. An empty document is the absent sentinel, never a hit.
func (m *Manager) LookupPlan(ctx context.Context, patientName string) (models.PlanDocument, error) {
	val, err := m.kv.Get(ctx, planKey(patientName))
	if err != nil {
		return nil, err
	}

	var plan models.PlanDocument
	if err := json.Unmarshal([]byte(val), &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached plan: %w", err)
	}
	if len(plan) == 0 {
		return nil, ErrCacheMiss
	}

	return plan, nil
}

// DropPlan invalidates the cached plan document
func (m *Manager) DropPlan(ctx context.Context, patientName string) error {
	if err := m.kv.Del(ctx, planKey(patientName)); err != nil {
		return fmt.Errorf("failed to drop plan cache: %w", err)
	}

	m.logger.Debug("Dropped plan cache", zap.String("patient", patientName))
	return nil
}
