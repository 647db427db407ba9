package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wisefido-patient-record/internal/cache"
	"wisefido-patient-record/internal/config"
	"wisefido-patient-record/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memKVStore minimal in-memory KV for exercising the cache path
type memKVStore struct {
	data map[string]string
}

func newMemKVStore() *memKVStore {
	return &memKVStore{data: make(map[string]string)}
}

func (m *memKVStore) Get(ctx context.Context, key string) (string, error) {
	val, ok := m.data[key]
	if !ok {
		return "", cache.ErrCacheMiss
	}
	return val, nil
}

func (m *memKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memKVStore) Del(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func setupService(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RecordService) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Record.HistoryLimit = 10

	svc := NewRecordServiceWithDB(cfg, zap.NewNop(), db, nil)

	return db, mock, svc
}

func setupServiceWithKV(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RecordService) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Record.HistoryLimit = 10
	cfg.Record.Cache.TTLSeconds = 60

	svc := NewRecordServiceWithDB(cfg, zap.NewNop(), db, newMemKVStore())

	return db, mock, svc
}

func aliceDHP(procedure string) *models.DHPDocument {
	return &models.DHPDocument{
		Hard: models.HardData{
			Alias:       "alice",
			Procedure:   procedure,
			LastUpdated: "2026-08-01T10:00:00Z",
		},
		Soft: "recovering well",
	}
}

func TestPushDHP_Success(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	doc := aliceDHP("hip replacement")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients").
		WithArgs("alice", "hip replacement", "2026-08-01T10:00:00Z", "recovering well").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO dhp_history").
		WithArgs("alice", "hip replacement", "2026-08-01T10:00:00Z", "recovering well").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM dhp_history").
		WithArgs("alice", 10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	name, err := svc.PushDHP(context.Background(), doc)

	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushDHP_MissingAlias(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	doc := &models.DHPDocument{
		Hard: models.HardData{Procedure: "hip replacement"},
	}

	// Rejected before any statement executes.
	_, err := svc.PushDHP(context.Background(), doc)

	assert.ErrorIs(t, err, ErrMissingAlias)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushDHP_AppendFailureRollsBack(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO dhp_history").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := svc.PushDHP(context.Background(), aliceDHP("hip replacement"))

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushPlanStatus_Success(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	plan := models.PlanDocument{"phase": "rehab"}
	raw, err := json.Marshal(plan)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE patients").
		WithArgs(raw, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO plan_history").
		WithArgs("alice", raw).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM plan_history").
		WithArgs("alice", 10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err = svc.PushPlanStatus(context.Background(), "alice", plan)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushPlanStatus_UnknownPatient(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	plan := models.PlanDocument{"phase": "rehab"}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE patients").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.PushPlanStatus(context.Background(), "ghost", plan)

	assert.ErrorIs(t, err, ErrPatientNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPushPlanStatus_EmptyPlanInvalidatesCache(t *testing.T) {
	db, mock, svc := setupServiceWithKV(t)
	defer db.Close()

	ctx := context.Background()

	rehab := models.PlanDocument{"phase": "rehab"}
	rehabRaw, err := json.Marshal(rehab)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE patients").
		WithArgs(rehabRaw, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO plan_history").
		WithArgs("alice", rehabRaw).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM plan_history").
		WithArgs("alice", 10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, svc.PushPlanStatus(ctx, "alice", rehab))

	// Served from the cache: no statement expected.
	plan, err := svc.GetPlanStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "rehab", plan["phase"])

	// Overwriting with an empty document makes the plan absent again.
	emptyRaw := []byte(`{}`)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE patients").
		WithArgs(emptyRaw, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO plan_history").
		WithArgs("alice", emptyRaw).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM plan_history").
		WithArgs("alice", 10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, svc.PushPlanStatus(ctx, "alice", models.PlanDocument{}))

	// Both read paths now agree the plan is absent: the cache no
	// longer answers and the database reports the empty document.
	mock.ExpectQuery("SELECT current_plan").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"current_plan"}).AddRow(`{}`))

	plan, err = svc.GetPlanStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, plan)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackDHP_Success(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectBegin()
	// Newest-first: C is current, B is the rollback target.
	mock.ExpectQuery("SELECT history_id, procedure, last_updated, soft_data").
		WithArgs("alice", 2).
		WillReturnRows(sqlmock.NewRows([]string{"history_id", "procedure", "last_updated", "soft_data"}).
			AddRow(3, "C", "2026-08-03", "soft-c").
			AddRow(2, "B", "2026-08-02", "soft-b"))
	mock.ExpectExec("UPDATE patients").
		WithArgs("B", "2026-08-02", "soft-b", "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM dhp_history").
		WithArgs(pq.Array([]int64{3})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.RollbackDHP(context.Background(), "alice", 1)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackDHP_TwoSteps(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT history_id, procedure, last_updated, soft_data").
		WithArgs("alice", 3).
		WillReturnRows(sqlmock.NewRows([]string{"history_id", "procedure", "last_updated", "soft_data"}).
			AddRow(3, "C", "2026-08-03", "soft-c").
			AddRow(2, "B", "2026-08-02", "soft-b").
			AddRow(1, "A", "2026-08-01", "soft-a"))
	mock.ExpectExec("UPDATE patients").
		WithArgs("A", "2026-08-01", "soft-a", "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM dhp_history").
		WithArgs(pq.Array([]int64{3, 2})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := svc.RollbackDHP(context.Background(), "alice", 2)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackDHP_InvalidSteps(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	// Rejected before any statement executes.
	err := svc.RollbackDHP(context.Background(), "alice", 0)
	assert.ErrorIs(t, err, ErrInvalidSteps)

	err = svc.RollbackDHP(context.Background(), "alice", -3)
	assert.ErrorIs(t, err, ErrInvalidSteps)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackDHP_InsufficientHistory(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectBegin()
	// Only the current entry remains: no previous version to reach.
	mock.ExpectQuery("SELECT history_id, procedure, last_updated, soft_data").
		WithArgs("alice", 2).
		WillReturnRows(sqlmock.NewRows([]string{"history_id", "procedure", "last_updated", "soft_data"}).
			AddRow(1, "A", "2026-08-01", "soft-a"))
	mock.ExpectRollback()

	err := svc.RollbackDHP(context.Background(), "alice", 1)

	var insufficient *InsufficientHistoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, KindDHP, insufficient.Kind)
	assert.Equal(t, 1, insufficient.Requested)
	assert.Equal(t, 0, insufficient.Available)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackDHP_NoHistoryAtAll(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT history_id, procedure, last_updated, soft_data").
		WithArgs("ghost", 3).
		WillReturnRows(sqlmock.NewRows([]string{"history_id", "procedure", "last_updated", "soft_data"}))
	mock.ExpectRollback()

	err := svc.RollbackDHP(context.Background(), "ghost", 2)

	var insufficient *InsufficientHistoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Available)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackPlan_Success(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	older := []byte(`{"phase":"acute"}`)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT history_id, plan_snapshot").
		WithArgs("alice", 2).
		WillReturnRows(sqlmock.NewRows([]string{"history_id", "plan_snapshot"}).
			AddRow(7, []byte(`{"phase":"rehab"}`)).
			AddRow(6, older))
	mock.ExpectExec("UPDATE patients").
		WithArgs(older, "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM plan_history").
		WithArgs(pq.Array([]int64{7})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.RollbackPlan(context.Background(), "alice", 1)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackPlan_PatientRowGone(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT history_id, plan_snapshot").
		WithArgs("alice", 2).
		WillReturnRows(sqlmock.NewRows([]string{"history_id", "plan_snapshot"}).
			AddRow(7, []byte(`{"phase":"rehab"}`)).
			AddRow(6, []byte(`{"phase":"acute"}`)))
	// History rows exist but the patient row was deleted out of band:
	// the update matches nothing and the rollback is rejected.
	mock.ExpectExec("UPDATE patients").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.RollbackPlan(context.Background(), "alice", 1)

	assert.ErrorIs(t, err, ErrPatientNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackPlan_InsufficientHistory(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT history_id, plan_snapshot").
		WithArgs("alice", 3).
		WillReturnRows(sqlmock.NewRows([]string{"history_id", "plan_snapshot"}).
			AddRow(7, []byte(`{"phase":"rehab"}`)).
			AddRow(6, []byte(`{"phase":"acute"}`)))
	mock.ExpectRollback()

	err := svc.RollbackPlan(context.Background(), "alice", 2)

	var insufficient *InsufficientHistoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, KindPlan, insufficient.Kind)
	assert.Equal(t, 1, insufficient.Available)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDHP_Success(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectQuery("SELECT patient_name, procedure, last_updated, soft_data").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"patient_name", "procedure", "last_updated", "soft_data"}).
			AddRow("alice", "hip replacement", "2026-08-01", "recovering well"))

	doc, err := svc.GetDHP(context.Background(), "alice")

	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "alice", doc.Hard.Alias)
	assert.Equal(t, "hip replacement", doc.Hard.Procedure)
	assert.Equal(t, "recovering well", doc.Soft)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDHP_Absent(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectQuery("SELECT patient_name, procedure, last_updated, soft_data").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	doc, err := svc.GetDHP(context.Background(), "ghost")

	require.NoError(t, err)
	assert.Nil(t, doc)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlanStatus_Success(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectQuery("SELECT current_plan").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"current_plan"}).
			AddRow(`{"phase":"rehab","week":3}`))

	plan, err := svc.GetPlanStatus(context.Background(), "alice")

	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "rehab", plan["phase"])
	assert.Equal(t, float64(3), plan["week"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlanStatus_NeverSet(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectQuery("SELECT current_plan").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"current_plan"}).AddRow(`{}`))

	plan, err := svc.GetPlanStatus(context.Background(), "alice")

	require.NoError(t, err)
	assert.Nil(t, plan)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportDHP(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectQuery("SELECT patient_name, procedure, last_updated, soft_data").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"patient_name", "procedure", "last_updated", "soft_data"}).
			AddRow("alice", "hip replacement", "2026-08-01", "recovering well"))

	var buf bytes.Buffer
	err := svc.ExportDHP(context.Background(), "alice", &buf)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"Patient Alias": "alice"`)
	assert.Contains(t, buf.String(), "Non-Surgical Pathology")

	var doc models.DHPDocument
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "hip replacement", doc.Hard.Procedure)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportDHP_UnknownPatient(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectQuery("SELECT patient_name, procedure, last_updated, soft_data").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	var buf bytes.Buffer
	err := svc.ExportDHP(context.Background(), "ghost", &buf)

	assert.ErrorIs(t, err, ErrPatientNotFound)
	assert.Zero(t, buf.Len())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportPlanStatus_NeverSet(t *testing.T) {
	db, mock, svc := setupService(t)
	defer db.Close()

	mock.ExpectQuery("SELECT current_plan").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"current_plan"}).AddRow(nil))

	var buf bytes.Buffer
	err := svc.ExportPlanStatus(context.Background(), "alice", &buf)

	assert.ErrorIs(t, err, ErrPatientNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
