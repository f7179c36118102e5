package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPgMigrate(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS turns").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAppendTurnAssignsIndex(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO turns").
		WillReturnRows(pgxmock.NewRows([]string{"idx"}).AddRow(3))

	turn, err := st.AppendTurn(context.Background(), "p1", 1, model.ActorUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, 3, turn.Index)
	assert.NotEmpty(t, turn.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAppendTurnRetriesLostIndexRace(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO turns").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectQuery("INSERT INTO turns").
		WillReturnRows(pgxmock.NewRows([]string{"idx"}).AddRow(4))

	turn, err := st.AppendTurn(context.Background(), "p1", 1, model.ActorUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, 4, turn.Index)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAppendTurnGivesUpAfterRepeatedConflicts(t *testing.T) {
	st, mock := newMockStore(t)
	for i := 0; i <= turnIndexRetries; i++ {
		mock.ExpectQuery("INSERT INTO turns").
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	}

	_, err := st.AppendTurn(context.Background(), "p1", 1, model.ActorUser, "hello")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetDecisionNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM decisions").
		WithArgs("p1", 1, model.KeyBusinessType).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	d, err := st.GetDecision(context.Background(), "p1", 1, model.KeyBusinessType)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetDecisionScansRow(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()
	confirming := "t1"
	rows := pgxmock.NewRows([]string{
		"id", "project_id", "cycle", "decision_key", "claim", "label", "lock_state",
		"confirming_turn_id", "has_conflict", "conflict_key", "provenance_refs", "updated_at",
	}).AddRow("d1", "p1", 1, model.KeyBusinessType, "local service", "USER_SAID", "locked",
		&confirming, false, (*string)(nil), []byte(`["turn:t1"]`), now)
	mock.ExpectQuery("SELECT (.+) FROM decisions").
		WithArgs("p1", 1, model.KeyBusinessType).
		WillReturnRows(rows)

	d, err := st.GetDecision(context.Background(), "p1", 1, model.KeyBusinessType)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.TrustUserSaid, d.Label)
	assert.Equal(t, model.LockLocked, d.Lock)
	assert.Equal(t, "t1", d.ConfirmingTurnID)
	assert.Equal(t, []string{"turn:t1"}, d.ProvenanceRefs)
	assert.True(t, d.ExplicitlyConfirmed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgPutDecisionUpserts(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO decisions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.PutDecision(context.Background(), &model.DecisionItem{
		ProjectID:   "p1",
		Cycle:       1,
		DecisionKey: model.KeyBusinessType,
		Claim:       "local service",
		Label:       model.TrustUserSaid,
		Lock:        model.LockLocked,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateIngestRunIgnoresDuplicateKey(t *testing.T) {
	st, mock := newMockStore(t)
	// ON CONFLICT DO NOTHING reports zero rows for a duplicate; the call
	// still succeeds.
	mock.ExpectExec("INSERT INTO ingest_runs").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := st.CreateIngestRun(context.Background(), &model.ArtifactIngestRun{
		ArtifactID:     "a1",
		IdempotencyKey: "abc123",
		Outcome:        "ok",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgResolveCheckpointOnlyOnce(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE checkpoints SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.ResolveCheckpoint(context.Background(), "cp1", model.CheckpointConfirmed, "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateArtifactMissingRow(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("UPDATE artifacts SET").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateArtifact(context.Background(), &model.ArtifactInput{ID: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAppendSummaryVersions(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO summaries").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(2))

	sm := &model.ArtifactSummary{ArtifactID: "a1", Text: "summary", Confidence: 0.6, Source: model.SummaryMachine}
	require.NoError(t, st.AppendSummary(context.Background(), sm))
	assert.Equal(t, 2, sm.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSavePacketTransaction(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO contract_versions").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectExec("INSERT INTO contract_docs").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO requirements").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO provenance_links").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO doc_strengths").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	packet := &model.Packet{
		Version: model.ContractVersion{
			ProjectID:        "p1",
			Cycle:            1,
			InputFingerprint: "fp",
			Status:           model.ContractActive,
			Mode:             "fast",
		},
		Docs: []model.ContractDoc{{
			RoleID: 1,
			Title:  "Product Vision",
			Body:   "body",
			Claims: []model.Requirement{{
				Text:       "claim",
				Label:      model.TrustUserSaid,
				Provenance: []model.ProvenanceLink{{Kind: model.ProvenanceTurn, RefID: "t1"}},
			}},
		}},
	}
	strengths := []model.DocStrength{{RoleID: 1, WordCount: 1, ClaimCount: 1, ProvenanceCoverage: 1}}

	require.NoError(t, st.SavePacket(context.Background(), packet, strengths))
	assert.Equal(t, 1, packet.Version.Version)
	assert.NotEmpty(t, packet.Docs[0].ID)
	assert.Equal(t, packet.Version.ID, packet.Docs[0].VersionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSavePacketRollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO contract_versions").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := st.SavePacket(context.Background(), &model.Packet{}, nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
