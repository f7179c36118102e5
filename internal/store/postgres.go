package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/db"
	"github.com/sells-group/intake-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

const (
	pgUniqueViolation = "23505"

	// turnIndexRetries bounds re-runs of the turn insert when a
	// concurrent writer claims the same index.
	turnIndexRetries = 3
)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL,
	cycle      INTEGER NOT NULL,
	idx        INTEGER NOT NULL,
	actor      TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, cycle, idx)
);

CREATE TABLE IF NOT EXISTS decisions (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id         TEXT NOT NULL,
	cycle              INTEGER NOT NULL,
	decision_key       TEXT NOT NULL,
	claim              TEXT NOT NULL,
	label              TEXT NOT NULL,
	lock_state               TEXT NOT NULL,
	confirming_turn_id TEXT,
	has_conflict       BOOLEAN NOT NULL DEFAULT false,
	conflict_key       TEXT,
	provenance_refs    JSONB,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, cycle, decision_key)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id     TEXT NOT NULL,
	cycle          INTEGER NOT NULL,
	type           TEXT NOT NULL,
	reference      TEXT NOT NULL,
	canonical_url  TEXT,
	ingest_state   TEXT NOT NULL,
	verify_state   TEXT NOT NULL,
	latest_summary TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, cycle, type, reference)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	artifact_id     TEXT NOT NULL REFERENCES artifacts(id),
	idempotency_key TEXT NOT NULL UNIQUE,
	outcome         TEXT NOT NULL,
	bytes_fetched   INTEGER NOT NULL DEFAULT 0,
	redirects       INTEGER NOT NULL DEFAULT 0,
	truncated       BOOLEAN NOT NULL DEFAULT false,
	error_code      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS summaries (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	artifact_id TEXT NOT NULL REFERENCES artifacts(id),
	version     INTEGER NOT NULL,
	text        TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	source      TEXT NOT NULL,
	page_ids    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (artifact_id, version)
);

CREATE TABLE IF NOT EXISTS pages (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	artifact_id TEXT NOT NULL REFERENCES artifacts(id),
	url         TEXT NOT NULL,
	text        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id        TEXT NOT NULL,
	cycle             INTEGER NOT NULL,
	artifact_id       TEXT NOT NULL,
	key               TEXT NOT NULL UNIQUE,
	status            TEXT NOT NULL,
	prompt            TEXT NOT NULL,
	options           JSONB,
	summary_version   INTEGER NOT NULL,
	resolving_turn_id TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS contract_versions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id        TEXT NOT NULL,
	cycle             INTEGER NOT NULL,
	version           INTEGER NOT NULL,
	input_fingerprint TEXT NOT NULL,
	status            TEXT NOT NULL,
	mode              TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, cycle, version),
	UNIQUE (project_id, cycle, input_fingerprint)
);

CREATE TABLE IF NOT EXISTS contract_docs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	version_id TEXT NOT NULL REFERENCES contract_versions(id),
	role_id    INTEGER NOT NULL,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	UNIQUE (version_id, role_id)
);

CREATE TABLE IF NOT EXISTS requirements (
	id     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	doc_id TEXT NOT NULL REFERENCES contract_docs(id),
	text   TEXT NOT NULL,
	label  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provenance_links (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	kind           TEXT NOT NULL,
	ref_id         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS doc_strengths (
	version_id          TEXT NOT NULL REFERENCES contract_versions(id),
	role_id             INTEGER NOT NULL,
	word_count          INTEGER NOT NULL,
	claim_count         INTEGER NOT NULL,
	provenance_coverage DOUBLE PRECISION NOT NULL,
	unknown_claims      INTEGER NOT NULL,
	weak                BOOLEAN NOT NULL,
	PRIMARY KEY (version_id, role_id)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL,
	cycle      INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	detail     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_project_cycle ON turns(project_id, cycle, idx);
CREATE INDEX IF NOT EXISTS idx_decisions_project_cycle ON decisions(project_id, cycle);
CREATE INDEX IF NOT EXISTS idx_checkpoints_pending ON checkpoints(project_id, cycle, status);
CREATE INDEX IF NOT EXISTS idx_summaries_artifact ON summaries(artifact_id, version);
CREATE INDEX IF NOT EXISTS idx_audit_project_cycle ON audit_events(project_id, cycle);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, projectID string, cycle int, actor model.Actor, text string) (*model.Turn, error) {
	t := &model.Turn{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Cycle:     cycle,
		Actor:     actor,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	// Index assignment and insert in one statement keeps concurrent turns
	// monotonic without an advisory lock. The UNIQUE constraint rejects a
	// lost race; re-running the insert picks up a fresh index.
	for attempt := 0; ; attempt++ {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO turns (id, project_id, cycle, idx, actor, text, created_at)
			 VALUES ($1, $2, $3,
			   (SELECT COALESCE(MAX(idx), 0) + 1 FROM turns WHERE project_id = $2 AND cycle = $3),
			   $4, $5, $6)
			 RETURNING idx`,
			t.ID, t.ProjectID, t.Cycle, string(t.Actor), t.Text, t.CreatedAt,
		).Scan(&t.Index)
		if err == nil {
			return t, nil
		}
		var pgErr *pgconn.PgError
		if attempt < turnIndexRetries && errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			continue
		}
		return nil, eris.Wrap(err, "postgres: insert turn")
	}
}

func (s *PostgresStore) ListTurns(ctx context.Context, projectID string, cycle int) ([]model.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, cycle, idx, actor, text, created_at FROM turns
		 WHERE project_id = $1 AND cycle = $2 ORDER BY idx`,
		projectID, cycle,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list turns")
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		var actor string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Cycle, &t.Index, &actor, &t.Text, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan turn")
		}
		t.Actor = model.Actor(actor)
		turns = append(turns, t)
	}
	return turns, eris.Wrap(rows.Err(), "postgres: list turns iterate")
}

const decisionColumns = `id, project_id, cycle, decision_key, claim, label, lock_state, confirming_turn_id,
 has_conflict, conflict_key, provenance_refs, updated_at`

func (s *PostgresStore) GetDecision(ctx context.Context, projectID string, cycle int, key string) (*model.DecisionItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE project_id = $1 AND cycle = $2 AND decision_key = $3`,
		projectID, cycle, key,
	)
	d, err := scanPgDecision(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get decision %s", key)
	}
	return d, nil
}

func scanPgDecision(row pgx.Row) (*model.DecisionItem, error) {
	var d model.DecisionItem
	var label, lock string
	var confirming, conflictKey *string
	var refsJSON []byte
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Cycle, &d.DecisionKey, &d.Claim, &label, &lock,
		&confirming, &d.HasConflict, &conflictKey, &refsJSON, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Label = model.TrustLabel(label)
	d.Lock = model.LockState(lock)
	if confirming != nil {
		d.ConfirmingTurnID = *confirming
	}
	if conflictKey != nil {
		d.ConflictKey = *conflictKey
	}
	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &d.ProvenanceRefs); err != nil {
			return nil, eris.Wrap(err, "unmarshal provenance refs")
		}
	}
	return &d, nil
}

func (s *PostgresStore) PutDecision(ctx context.Context, d *model.DecisionItem) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.UpdatedAt = time.Now().UTC()
	refsJSON, err := json.Marshal(d.ProvenanceRefs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal provenance refs")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO decisions (id, project_id, cycle, decision_key, claim, label, lock_state,
		                        confirming_turn_id, has_conflict, conflict_key, provenance_refs, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (project_id, cycle, decision_key) DO UPDATE SET
		   claim = EXCLUDED.claim,
		   label = EXCLUDED.label,
		   lock_state = EXCLUDED.lock_state,
		   confirming_turn_id = EXCLUDED.confirming_turn_id,
		   has_conflict = EXCLUDED.has_conflict,
		   conflict_key = EXCLUDED.conflict_key,
		   provenance_refs = EXCLUDED.provenance_refs,
		   updated_at = EXCLUDED.updated_at`,
		d.ID, d.ProjectID, d.Cycle, d.DecisionKey, d.Claim, string(d.Label), string(d.Lock),
		pgNullStr(d.ConfirmingTurnID), d.HasConflict, pgNullStr(d.ConflictKey), refsJSON, d.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: put decision %s", d.DecisionKey)
}

func (s *PostgresStore) ListDecisions(ctx context.Context, projectID string, cycle int) ([]model.DecisionItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE project_id = $1 AND cycle = $2 ORDER BY decision_key`,
		projectID, cycle,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var items []model.DecisionItem
	for rows.Next() {
		d, err := scanPgDecision(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		items = append(items, *d)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

const artifactColumns = `id, project_id, cycle, type, reference, canonical_url, ingest_state,
 verify_state, latest_summary, created_at, updated_at`

func scanPgArtifact(row pgx.Row) (*model.ArtifactInput, error) {
	var a model.ArtifactInput
	var atype, ingest, verify string
	var canonical, summary *string
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Cycle, &atype, &a.Reference, &canonical, &ingest,
		&verify, &summary, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = model.ArtifactType(atype)
	a.IngestState = model.IngestState(ingest)
	a.VerifyState = model.VerifyState(verify)
	if canonical != nil {
		a.CanonicalURL = *canonical
	}
	if summary != nil {
		a.LatestSummary = *summary
	}
	return &a, nil
}

func (s *PostgresStore) GetArtifact(ctx context.Context, projectID string, cycle int, typ model.ArtifactType, reference string) (*model.ArtifactInput, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts
		 WHERE project_id = $1 AND cycle = $2 AND type = $3 AND reference = $4`,
		projectID, cycle, string(typ), reference,
	)
	a, err := scanPgArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get artifact")
	}
	return a, nil
}

func (s *PostgresStore) GetArtifactByID(ctx context.Context, id string) (*model.ArtifactInput, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id,
	)
	a, err := scanPgArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get artifact by id")
	}
	return a, nil
}

func (s *PostgresStore) CreateArtifact(ctx context.Context, a *model.ArtifactInput) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, project_id, cycle, type, reference, canonical_url, ingest_state,
		                        verify_state, latest_summary, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.ProjectID, a.Cycle, string(a.Type), a.Reference, pgNullStr(a.CanonicalURL),
		string(a.IngestState), string(a.VerifyState), pgNullStr(a.LatestSummary), a.CreatedAt, a.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: create artifact")
}

func (s *PostgresStore) UpdateArtifact(ctx context.Context, a *model.ArtifactInput) error {
	a.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE artifacts SET canonical_url = $1, ingest_state = $2, verify_state = $3,
		        latest_summary = $4, updated_at = $5 WHERE id = $6`,
		pgNullStr(a.CanonicalURL), string(a.IngestState), string(a.VerifyState),
		pgNullStr(a.LatestSummary), a.UpdatedAt, a.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update artifact %s", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("artifact not found: %s", a.ID)
	}
	return nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, projectID string, cycle int) ([]model.ArtifactInput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactColumns+` FROM artifacts
		 WHERE project_id = $1 AND cycle = $2 ORDER BY created_at`,
		projectID, cycle,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var items []model.ArtifactInput
	for rows.Next() {
		a, err := scanPgArtifact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		items = append(items, *a)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}

func (s *PostgresStore) GetIngestRunByKey(ctx context.Context, key string) (*model.ArtifactIngestRun, error) {
	var r model.ArtifactIngestRun
	var errCode *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, artifact_id, idempotency_key, outcome, bytes_fetched, redirects, truncated,
		        error_code, created_at
		 FROM ingest_runs WHERE idempotency_key = $1`,
		key,
	).Scan(&r.ID, &r.ArtifactID, &r.IdempotencyKey, &r.Outcome, &r.BytesFetched, &r.Redirects,
		&r.Truncated, &errCode, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get ingest run")
	}
	if errCode != nil {
		r.ErrorCode = *errCode
	}
	return &r, nil
}

func (s *PostgresStore) CreateIngestRun(ctx context.Context, r *model.ArtifactIngestRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()
	// ON CONFLICT DO NOTHING lets two concurrent ingestions for the same
	// input converge on one row instead of erroring.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, artifact_id, idempotency_key, outcome, bytes_fetched,
		                          redirects, truncated, error_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		r.ID, r.ArtifactID, r.IdempotencyKey, r.Outcome, r.BytesFetched, r.Redirects,
		r.Truncated, pgNullStr(r.ErrorCode), r.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create ingest run")
}

func (s *PostgresStore) LatestSummary(ctx context.Context, artifactID string) (*model.ArtifactSummary, error) {
	var sm model.ArtifactSummary
	var source string
	var pagesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, artifact_id, version, text, confidence, source, page_ids, created_at
		 FROM summaries WHERE artifact_id = $1 ORDER BY version DESC LIMIT 1`,
		artifactID,
	).Scan(&sm.ID, &sm.ArtifactID, &sm.Version, &sm.Text, &sm.Confidence, &source, &pagesJSON, &sm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest summary")
	}
	sm.Source = model.SummarySource(source)
	if len(pagesJSON) > 0 {
		if err := json.Unmarshal(pagesJSON, &sm.PageIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal page ids")
		}
	}
	return &sm, nil
}

func (s *PostgresStore) AppendSummary(ctx context.Context, sm *model.ArtifactSummary) error {
	if sm.ID == "" {
		sm.ID = uuid.New().String()
	}
	sm.CreatedAt = time.Now().UTC()
	pagesJSON, err := json.Marshal(sm.PageIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal page ids")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO summaries (id, artifact_id, version, text, confidence, source, page_ids, created_at)
		 VALUES ($1, $2,
		   (SELECT COALESCE(MAX(version), 0) + 1 FROM summaries WHERE artifact_id = $2),
		   $3, $4, $5, $6, $7)
		 RETURNING version`,
		sm.ID, sm.ArtifactID, sm.Text, sm.Confidence, string(sm.Source), pagesJSON, sm.CreatedAt,
	).Scan(&sm.Version)
	return eris.Wrap(err, "postgres: append summary")
}

func (s *PostgresStore) SavePage(ctx context.Context, p *model.ArtifactPage) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pages (id, artifact_id, url, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.ArtifactID, p.URL, p.Text, p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: save page")
}

const pgCheckpointSelect = `
SELECT id, project_id, cycle, artifact_id, key, status, prompt, options, summary_version,
       resolving_turn_id, created_at, resolved_at
FROM checkpoints`

func scanPgCheckpoint(row pgx.Row) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var status string
	var optsJSON []byte
	var resolving *string
	var resolvedAt *time.Time
	if err := row.Scan(&cp.ID, &cp.ProjectID, &cp.Cycle, &cp.ArtifactID, &cp.Key, &status,
		&cp.Prompt, &optsJSON, &cp.SummaryVersion, &resolving, &cp.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	cp.Status = model.CheckpointStatus(status)
	if resolving != nil {
		cp.ResolvingTurnID = *resolving
	}
	cp.ResolvedAt = resolvedAt
	if len(optsJSON) > 0 {
		if err := json.Unmarshal(optsJSON, &cp.Options); err != nil {
			return nil, eris.Wrap(err, "unmarshal checkpoint options")
		}
	}
	return &cp, nil
}

func (s *PostgresStore) GetCheckpointByKey(ctx context.Context, key string) (*model.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, pgCheckpointSelect+` WHERE key = $1`, key)
	cp, err := scanPgCheckpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get checkpoint by key")
	}
	return cp, nil
}

func (s *PostgresStore) CreateCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.CreatedAt = time.Now().UTC()
	optsJSON, err := json.Marshal(cp.Options)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint options")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (id, project_id, cycle, artifact_id, key, status, prompt, options,
		                          summary_version, resolving_turn_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (key) DO NOTHING`,
		cp.ID, cp.ProjectID, cp.Cycle, cp.ArtifactID, cp.Key, string(cp.Status), cp.Prompt,
		optsJSON, cp.SummaryVersion, pgNullStr(cp.ResolvingTurnID), cp.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create checkpoint")
}

func (s *PostgresStore) PendingCheckpoint(ctx context.Context, projectID string, cycle int) (*model.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		pgCheckpointSelect+` WHERE project_id = $1 AND cycle = $2 AND status = $3 ORDER BY created_at LIMIT 1`,
		projectID, cycle, string(model.CheckpointPending),
	)
	cp, err := scanPgCheckpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: pending checkpoint")
	}
	return cp, nil
}

func (s *PostgresStore) ResolveCheckpoint(ctx context.Context, id string, status model.CheckpointStatus, turnID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE checkpoints SET status = $1, resolving_turn_id = $2, resolved_at = $3
		 WHERE id = $4 AND status = $5`,
		string(status), pgNullStr(turnID), time.Now().UTC(), id, string(model.CheckpointPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve checkpoint %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("checkpoint not pending: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetPacketByFingerprint(ctx context.Context, projectID string, cycle int, fingerprint string) (*model.Packet, error) {
	var cv model.ContractVersion
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, cycle, version, input_fingerprint, status, mode, created_at
		 FROM contract_versions WHERE project_id = $1 AND cycle = $2 AND input_fingerprint = $3`,
		projectID, cycle, fingerprint,
	).Scan(&cv.ID, &cv.ProjectID, &cv.Cycle, &cv.Version, &cv.InputFingerprint, &status, &cv.Mode, &cv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get packet by fingerprint")
	}
	cv.Status = model.ContractStatus(status)

	docs, err := s.loadDocs(ctx, cv.ID)
	if err != nil {
		return nil, err
	}
	return &model.Packet{Version: cv, Docs: docs}, nil
}

func (s *PostgresStore) loadDocs(ctx context.Context, versionID string) ([]model.ContractDoc, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, version_id, role_id, title, body FROM contract_docs WHERE version_id = $1 ORDER BY role_id`,
		versionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load docs")
	}
	defer rows.Close()

	var docs []model.ContractDoc
	for rows.Next() {
		var d model.ContractDoc
		if err := rows.Scan(&d.ID, &d.VersionID, &d.RoleID, &d.Title, &d.Body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan doc")
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: load docs iterate")
	}

	for i := range docs {
		claims, err := s.loadClaims(ctx, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].Claims = claims
	}
	return docs, nil
}

func (s *PostgresStore) loadClaims(ctx context.Context, docID string) ([]model.Requirement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.doc_id, r.text, r.label, p.id, p.kind, p.ref_id
		 FROM requirements r
		 LEFT JOIN provenance_links p ON p.requirement_id = r.id
		 WHERE r.doc_id = $1 ORDER BY r.id, p.id`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load claims")
	}
	defer rows.Close()

	var claims []model.Requirement
	byID := map[string]int{}
	for rows.Next() {
		var (
			rid, rdoc, rtext, rlabel string
			pid, pkind, pref         *string
		)
		if err := rows.Scan(&rid, &rdoc, &rtext, &rlabel, &pid, &pkind, &pref); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claim")
		}
		idx, ok := byID[rid]
		if !ok {
			claims = append(claims, model.Requirement{ID: rid, DocID: rdoc, Text: rtext, Label: model.TrustLabel(rlabel)})
			idx = len(claims) - 1
			byID[rid] = idx
		}
		if pid != nil {
			claims[idx].Provenance = append(claims[idx].Provenance, model.ProvenanceLink{
				ID: *pid, Kind: model.ProvenanceKind(*pkind), RefID: *pref,
			})
		}
	}
	return claims, eris.Wrap(rows.Err(), "postgres: load claims iterate")
}

// SavePacket persists a version with its documents, claims, provenance
// links, and strength snapshots in one transaction.
func (s *PostgresStore) SavePacket(ctx context.Context, p *model.Packet, strengths []model.DocStrength) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save packet")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if p.Version.ID == "" {
		p.Version.ID = uuid.New().String()
	}
	p.Version.CreatedAt = time.Now().UTC()

	err = tx.QueryRow(ctx,
		`INSERT INTO contract_versions (id, project_id, cycle, version, input_fingerprint, status, mode, created_at)
		 VALUES ($1, $2, $3,
		   (SELECT COALESCE(MAX(version), 0) + 1 FROM contract_versions WHERE project_id = $2 AND cycle = $3),
		   $4, $5, $6, $7)
		 RETURNING version`,
		p.Version.ID, p.Version.ProjectID, p.Version.Cycle,
		p.Version.InputFingerprint, string(p.Version.Status), p.Version.Mode, p.Version.CreatedAt,
	).Scan(&p.Version.Version)
	if err != nil {
		return eris.Wrap(err, "postgres: insert contract version")
	}

	for i := range p.Docs {
		doc := &p.Docs[i]
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		doc.VersionID = p.Version.ID
		if _, err := tx.Exec(ctx,
			`INSERT INTO contract_docs (id, version_id, role_id, title, body) VALUES ($1, $2, $3, $4, $5)`,
			doc.ID, doc.VersionID, doc.RoleID, doc.Title, doc.Body,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert doc role %d", doc.RoleID)
		}
		for j := range doc.Claims {
			claim := &doc.Claims[j]
			if claim.ID == "" {
				claim.ID = uuid.New().String()
			}
			claim.DocID = doc.ID
			if _, err := tx.Exec(ctx,
				`INSERT INTO requirements (id, doc_id, text, label) VALUES ($1, $2, $3, $4)`,
				claim.ID, claim.DocID, claim.Text, string(claim.Label),
			); err != nil {
				return eris.Wrap(err, "postgres: insert requirement")
			}
			for k := range claim.Provenance {
				link := &claim.Provenance[k]
				if link.ID == "" {
					link.ID = uuid.New().String()
				}
				if _, err := tx.Exec(ctx,
					`INSERT INTO provenance_links (id, requirement_id, kind, ref_id) VALUES ($1, $2, $3, $4)`,
					link.ID, claim.ID, string(link.Kind), link.RefID,
				); err != nil {
					return eris.Wrap(err, "postgres: insert provenance link")
				}
			}
		}
	}

	for _, st := range strengths {
		if _, err := tx.Exec(ctx,
			`INSERT INTO doc_strengths (version_id, role_id, word_count, claim_count,
			                            provenance_coverage, unknown_claims, weak)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.Version.ID, st.RoleID, st.WordCount, st.ClaimCount,
			st.ProvenanceCoverage, st.UnknownClaims, st.Weak,
		); err != nil {
			return eris.Wrap(err, "postgres: insert doc strength")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save packet")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	detail := e.Detail
	if len(detail) == 0 {
		detail = []byte("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_events (id, project_id, cycle, kind, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ProjectID, e.Cycle, e.Kind, detail, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append audit")
}

func pgNullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
