package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intake-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and tests; production deployments run Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps :memory: databases coherent and lets
	// writes serialize instead of fighting over the file lock.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	cycle      INTEGER NOT NULL,
	idx        INTEGER NOT NULL,
	actor      TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (project_id, cycle, idx)
);

CREATE TABLE IF NOT EXISTS decisions (
	id                 TEXT PRIMARY KEY,
	project_id         TEXT NOT NULL,
	cycle              INTEGER NOT NULL,
	decision_key       TEXT NOT NULL,
	claim              TEXT NOT NULL,
	label              TEXT NOT NULL,
	lock_state               TEXT NOT NULL,
	confirming_turn_id TEXT,
	has_conflict       INTEGER NOT NULL DEFAULT 0,
	conflict_key       TEXT,
	provenance_refs    TEXT,
	updated_at         DATETIME NOT NULL,
	UNIQUE (project_id, cycle, decision_key)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	cycle          INTEGER NOT NULL,
	type           TEXT NOT NULL,
	reference      TEXT NOT NULL,
	canonical_url  TEXT,
	ingest_state   TEXT NOT NULL,
	verify_state   TEXT NOT NULL,
	latest_summary TEXT,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	UNIQUE (project_id, cycle, type, reference)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id              TEXT PRIMARY KEY,
	artifact_id     TEXT NOT NULL REFERENCES artifacts(id),
	idempotency_key TEXT NOT NULL UNIQUE,
	outcome         TEXT NOT NULL,
	bytes_fetched   INTEGER NOT NULL DEFAULT 0,
	redirects       INTEGER NOT NULL DEFAULT 0,
	truncated       INTEGER NOT NULL DEFAULT 0,
	error_code      TEXT,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS summaries (
	id          TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL REFERENCES artifacts(id),
	version     INTEGER NOT NULL,
	text        TEXT NOT NULL,
	confidence  REAL NOT NULL,
	source      TEXT NOT NULL,
	page_ids    TEXT,
	created_at  DATETIME NOT NULL,
	UNIQUE (artifact_id, version)
);

CREATE TABLE IF NOT EXISTS pages (
	id          TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL REFERENCES artifacts(id),
	url         TEXT NOT NULL,
	text        TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	cycle             INTEGER NOT NULL,
	artifact_id       TEXT NOT NULL,
	key               TEXT NOT NULL UNIQUE,
	status            TEXT NOT NULL,
	prompt            TEXT NOT NULL,
	options           TEXT,
	summary_version   INTEGER NOT NULL,
	resolving_turn_id TEXT,
	created_at        DATETIME NOT NULL,
	resolved_at       DATETIME
);

CREATE TABLE IF NOT EXISTS contract_versions (
	id                TEXT PRIMARY KEY,
	project_id        TEXT NOT NULL,
	cycle             INTEGER NOT NULL,
	version           INTEGER NOT NULL,
	input_fingerprint TEXT NOT NULL,
	status            TEXT NOT NULL,
	mode              TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	UNIQUE (project_id, cycle, version),
	UNIQUE (project_id, cycle, input_fingerprint)
);

CREATE TABLE IF NOT EXISTS contract_docs (
	id         TEXT PRIMARY KEY,
	version_id TEXT NOT NULL REFERENCES contract_versions(id),
	role_id    INTEGER NOT NULL,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	UNIQUE (version_id, role_id)
);

CREATE TABLE IF NOT EXISTS requirements (
	id     TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL REFERENCES contract_docs(id),
	text   TEXT NOT NULL,
	label  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provenance_links (
	id             TEXT PRIMARY KEY,
	requirement_id TEXT NOT NULL REFERENCES requirements(id),
	kind           TEXT NOT NULL,
	ref_id         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS doc_strengths (
	version_id          TEXT NOT NULL REFERENCES contract_versions(id),
	role_id             INTEGER NOT NULL,
	word_count          INTEGER NOT NULL,
	claim_count         INTEGER NOT NULL,
	provenance_coverage REAL NOT NULL,
	unknown_claims      INTEGER NOT NULL,
	weak                INTEGER NOT NULL,
	PRIMARY KEY (version_id, role_id)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	cycle      INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	detail     TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_project_cycle ON turns(project_id, cycle, idx);
CREATE INDEX IF NOT EXISTS idx_decisions_project_cycle ON decisions(project_id, cycle);
CREATE INDEX IF NOT EXISTS idx_checkpoints_pending ON checkpoints(project_id, cycle, status);
CREATE INDEX IF NOT EXISTS idx_summaries_artifact ON summaries(artifact_id, version);
CREATE INDEX IF NOT EXISTS idx_audit_project_cycle ON audit_events(project_id, cycle);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, projectID string, cycle int, actor model.Actor, text string) (*model.Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin append turn")
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx), 0) + 1 FROM turns WHERE project_id = ? AND cycle = ?`,
		projectID, cycle,
	).Scan(&next)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: next turn index")
	}

	t := &model.Turn{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Cycle:     cycle,
		Index:     next,
		Actor:     actor,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, project_id, cycle, idx, actor, text, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Cycle, t.Index, string(t.Actor), t.Text, t.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert turn")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit append turn")
	}
	return t, nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, projectID string, cycle int) ([]model.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, cycle, idx, actor, text, created_at FROM turns
		 WHERE project_id = ? AND cycle = ? ORDER BY idx`,
		projectID, cycle,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list turns")
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var t model.Turn
		var actor string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Cycle, &t.Index, &actor, &t.Text, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan turn")
		}
		t.Actor = model.Actor(actor)
		turns = append(turns, t)
	}
	return turns, eris.Wrap(rows.Err(), "sqlite: list turns iterate")
}

func (s *SQLiteStore) GetDecision(ctx context.Context, projectID string, cycle int, key string) (*model.DecisionItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, cycle, decision_key, claim, label, lock_state, confirming_turn_id,
		        has_conflict, conflict_key, provenance_refs, updated_at
		 FROM decisions WHERE project_id = ? AND cycle = ? AND decision_key = ?`,
		projectID, cycle, key,
	)
	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get decision %s", key)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*model.DecisionItem, error) {
	var d model.DecisionItem
	var label, lock string
	var confirming, conflictKey, refsJSON sql.NullString
	var hasConflict int
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Cycle, &d.DecisionKey, &d.Claim, &label, &lock,
		&confirming, &hasConflict, &conflictKey, &refsJSON, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Label = model.TrustLabel(label)
	d.Lock = model.LockState(lock)
	d.ConfirmingTurnID = confirming.String
	d.HasConflict = hasConflict != 0
	d.ConflictKey = conflictKey.String
	if refsJSON.Valid && refsJSON.String != "" {
		if err := json.Unmarshal([]byte(refsJSON.String), &d.ProvenanceRefs); err != nil {
			return nil, eris.Wrap(err, "unmarshal provenance refs")
		}
	}
	return &d, nil
}

func (s *SQLiteStore) PutDecision(ctx context.Context, d *model.DecisionItem) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.UpdatedAt = time.Now().UTC()
	refsJSON, err := json.Marshal(d.ProvenanceRefs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal provenance refs")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, project_id, cycle, decision_key, claim, label, lock_state,
		                        confirming_turn_id, has_conflict, conflict_key, provenance_refs, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, cycle, decision_key) DO UPDATE SET
		   claim = excluded.claim,
		   label = excluded.label,
		   lock_state = excluded.lock_state,
		   confirming_turn_id = excluded.confirming_turn_id,
		   has_conflict = excluded.has_conflict,
		   conflict_key = excluded.conflict_key,
		   provenance_refs = excluded.provenance_refs,
		   updated_at = excluded.updated_at`,
		d.ID, d.ProjectID, d.Cycle, d.DecisionKey, d.Claim, string(d.Label), string(d.Lock),
		nullStr(d.ConfirmingTurnID), boolInt(d.HasConflict), nullStr(d.ConflictKey), string(refsJSON), d.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: put decision %s", d.DecisionKey)
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, projectID string, cycle int) ([]model.DecisionItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, cycle, decision_key, claim, label, lock_state, confirming_turn_id,
		        has_conflict, conflict_key, provenance_refs, updated_at
		 FROM decisions WHERE project_id = ? AND cycle = ? ORDER BY decision_key`,
		projectID, cycle,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
	}
	defer rows.Close()

	var items []model.DecisionItem
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		items = append(items, *d)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, projectID string, cycle int, typ model.ArtifactType, reference string) (*model.ArtifactInput, error) {
	var a model.ArtifactInput
	var atype, ingest, verify string
	var canonical, summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, cycle, type, reference, canonical_url, ingest_state, verify_state,
		        latest_summary, created_at, updated_at
		 FROM artifacts WHERE project_id = ? AND cycle = ? AND type = ? AND reference = ?`,
		projectID, cycle, string(typ), reference,
	).Scan(&a.ID, &a.ProjectID, &a.Cycle, &atype, &a.Reference, &canonical, &ingest, &verify,
		&summary, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get artifact")
	}
	a.Type = model.ArtifactType(atype)
	a.CanonicalURL = canonical.String
	a.IngestState = model.IngestState(ingest)
	a.VerifyState = model.VerifyState(verify)
	a.LatestSummary = summary.String
	return &a, nil
}

func (s *SQLiteStore) GetArtifactByID(ctx context.Context, id string) (*model.ArtifactInput, error) {
	var a model.ArtifactInput
	var atype, ingest, verify string
	var canonical, summary sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, cycle, type, reference, canonical_url, ingest_state, verify_state,
		        latest_summary, created_at, updated_at
		 FROM artifacts WHERE id = ?`, id,
	).Scan(&a.ID, &a.ProjectID, &a.Cycle, &atype, &a.Reference, &canonical, &ingest, &verify,
		&summary, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get artifact by id")
	}
	a.Type = model.ArtifactType(atype)
	a.CanonicalURL = canonical.String
	a.IngestState = model.IngestState(ingest)
	a.VerifyState = model.VerifyState(verify)
	a.LatestSummary = summary.String
	return &a, nil
}

func (s *SQLiteStore) CreateArtifact(ctx context.Context, a *model.ArtifactInput) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, project_id, cycle, type, reference, canonical_url, ingest_state,
		                        verify_state, latest_summary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.Cycle, string(a.Type), a.Reference, nullStr(a.CanonicalURL),
		string(a.IngestState), string(a.VerifyState), nullStr(a.LatestSummary), a.CreatedAt, a.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: create artifact")
}

func (s *SQLiteStore) UpdateArtifact(ctx context.Context, a *model.ArtifactInput) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET canonical_url = ?, ingest_state = ?, verify_state = ?,
		        latest_summary = ?, updated_at = ? WHERE id = ?`,
		nullStr(a.CanonicalURL), string(a.IngestState), string(a.VerifyState),
		nullStr(a.LatestSummary), a.UpdatedAt, a.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update artifact %s", a.ID)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return eris.Errorf("artifact not found: %s", a.ID)
	}
	return nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, projectID string, cycle int) ([]model.ArtifactInput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, cycle, type, reference, canonical_url, ingest_state, verify_state,
		        latest_summary, created_at, updated_at
		 FROM artifacts WHERE project_id = ? AND cycle = ? ORDER BY created_at`,
		projectID, cycle,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close()

	var items []model.ArtifactInput
	for rows.Next() {
		var a model.ArtifactInput
		var atype, ingest, verify string
		var canonical, summary sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Cycle, &atype, &a.Reference, &canonical,
			&ingest, &verify, &summary, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		a.Type = model.ArtifactType(atype)
		a.CanonicalURL = canonical.String
		a.IngestState = model.IngestState(ingest)
		a.VerifyState = model.VerifyState(verify)
		a.LatestSummary = summary.String
		items = append(items, a)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

func (s *SQLiteStore) GetIngestRunByKey(ctx context.Context, key string) (*model.ArtifactIngestRun, error) {
	var r model.ArtifactIngestRun
	var truncated int
	var errCode sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, artifact_id, idempotency_key, outcome, bytes_fetched, redirects, truncated,
		        error_code, created_at
		 FROM ingest_runs WHERE idempotency_key = ?`,
		key,
	).Scan(&r.ID, &r.ArtifactID, &r.IdempotencyKey, &r.Outcome, &r.BytesFetched, &r.Redirects,
		&truncated, &errCode, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get ingest run")
	}
	r.Truncated = truncated != 0
	r.ErrorCode = errCode.String
	return &r, nil
}

func (s *SQLiteStore) CreateIngestRun(ctx context.Context, r *model.ArtifactIngestRun) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, artifact_id, idempotency_key, outcome, bytes_fetched,
		                          redirects, truncated, error_code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		r.ID, r.ArtifactID, r.IdempotencyKey, r.Outcome, r.BytesFetched, r.Redirects,
		boolInt(r.Truncated), nullStr(r.ErrorCode), r.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: create ingest run")
}

func (s *SQLiteStore) LatestSummary(ctx context.Context, artifactID string) (*model.ArtifactSummary, error) {
	var sm model.ArtifactSummary
	var source string
	var pagesJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, artifact_id, version, text, confidence, source, page_ids, created_at
		 FROM summaries WHERE artifact_id = ? ORDER BY version DESC LIMIT 1`,
		artifactID,
	).Scan(&sm.ID, &sm.ArtifactID, &sm.Version, &sm.Text, &sm.Confidence, &source, &pagesJSON, &sm.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: latest summary")
	}
	sm.Source = model.SummarySource(source)
	if pagesJSON.Valid && pagesJSON.String != "" {
		if err := json.Unmarshal([]byte(pagesJSON.String), &sm.PageIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal page ids")
		}
	}
	return &sm, nil
}

func (s *SQLiteStore) AppendSummary(ctx context.Context, sm *model.ArtifactSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append summary")
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM summaries WHERE artifact_id = ?`,
		sm.ArtifactID,
	).Scan(&next)
	if err != nil {
		return eris.Wrap(err, "sqlite: next summary version")
	}

	if sm.ID == "" {
		sm.ID = uuid.New().String()
	}
	sm.Version = next
	sm.CreatedAt = time.Now().UTC()
	pagesJSON, err := json.Marshal(sm.PageIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal page ids")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO summaries (id, artifact_id, version, text, confidence, source, page_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sm.ID, sm.ArtifactID, sm.Version, sm.Text, sm.Confidence, string(sm.Source), string(pagesJSON), sm.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert summary")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit append summary")
}

func (s *SQLiteStore) SavePage(ctx context.Context, p *model.ArtifactPage) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pages (id, artifact_id, url, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.ArtifactID, p.URL, p.Text, p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: save page")
}

func (s *SQLiteStore) GetCheckpointByKey(ctx context.Context, key string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, checkpointSelect+` WHERE key = ?`, key)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get checkpoint by key")
	}
	return cp, nil
}

const checkpointSelect = `
SELECT id, project_id, cycle, artifact_id, key, status, prompt, options, summary_version,
       resolving_turn_id, created_at, resolved_at
FROM checkpoints`

func scanCheckpoint(row rowScanner) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var status string
	var optsJSON, resolving sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&cp.ID, &cp.ProjectID, &cp.Cycle, &cp.ArtifactID, &cp.Key, &status,
		&cp.Prompt, &optsJSON, &cp.SummaryVersion, &resolving, &cp.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	cp.Status = model.CheckpointStatus(status)
	cp.ResolvingTurnID = resolving.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		cp.ResolvedAt = &t
	}
	if optsJSON.Valid && optsJSON.String != "" {
		if err := json.Unmarshal([]byte(optsJSON.String), &cp.Options); err != nil {
			return nil, eris.Wrap(err, "unmarshal checkpoint options")
		}
	}
	return &cp, nil
}

func (s *SQLiteStore) CreateCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.CreatedAt = time.Now().UTC()
	optsJSON, err := json.Marshal(cp.Options)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint options")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, project_id, cycle, artifact_id, key, status, prompt, options,
		                          summary_version, resolving_turn_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		cp.ID, cp.ProjectID, cp.Cycle, cp.ArtifactID, cp.Key, string(cp.Status), cp.Prompt,
		string(optsJSON), cp.SummaryVersion, nullStr(cp.ResolvingTurnID), cp.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: create checkpoint")
}

func (s *SQLiteStore) PendingCheckpoint(ctx context.Context, projectID string, cycle int) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		checkpointSelect+` WHERE project_id = ? AND cycle = ? AND status = ? ORDER BY created_at LIMIT 1`,
		projectID, cycle, string(model.CheckpointPending),
	)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: pending checkpoint")
	}
	return cp, nil
}

func (s *SQLiteStore) ResolveCheckpoint(ctx context.Context, id string, status model.CheckpointStatus, turnID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET status = ?, resolving_turn_id = ?, resolved_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), nullStr(turnID), time.Now().UTC(), id, string(model.CheckpointPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve checkpoint %s", id)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return eris.Errorf("checkpoint not pending: %s", id)
	}
	return nil
}

func (s *SQLiteStore) GetPacketByFingerprint(ctx context.Context, projectID string, cycle int, fingerprint string) (*model.Packet, error) {
	var cv model.ContractVersion
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, cycle, version, input_fingerprint, status, mode, created_at
		 FROM contract_versions WHERE project_id = ? AND cycle = ? AND input_fingerprint = ?`,
		projectID, cycle, fingerprint,
	).Scan(&cv.ID, &cv.ProjectID, &cv.Cycle, &cv.Version, &cv.InputFingerprint, &status, &cv.Mode, &cv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get packet by fingerprint")
	}
	cv.Status = model.ContractStatus(status)

	docs, err := s.loadDocs(ctx, cv.ID)
	if err != nil {
		return nil, err
	}
	return &model.Packet{Version: cv, Docs: docs}, nil
}

func (s *SQLiteStore) loadDocs(ctx context.Context, versionID string) ([]model.ContractDoc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version_id, role_id, title, body FROM contract_docs WHERE version_id = ? ORDER BY role_id`,
		versionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load docs")
	}
	defer rows.Close()

	var docs []model.ContractDoc
	for rows.Next() {
		var d model.ContractDoc
		if err := rows.Scan(&d.ID, &d.VersionID, &d.RoleID, &d.Title, &d.Body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan doc")
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: load docs iterate")
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

func (s *SQLiteStore) loadClaims(ctx context.Context, docID string) ([]model.Requirement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.doc_id, r.text, r.label, p.id, p.kind, p.ref_id
		 FROM requirements r
		 LEFT JOIN provenance_links p ON p.requirement_id = r.id
		 WHERE r.doc_id = ? ORDER BY r.id, p.id`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load claims")
	}
	defer rows.Close()

	var claims []model.Requirement
	byID := map[string]int{}
	for rows.Next() {
		var (
			rid, rdoc, rtext, rlabel string
			pid, pkind, pref         sql.NullString
		)
		if err := rows.Scan(&rid, &rdoc, &rtext, &rlabel, &pid, &pkind, &pref); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claim")
		}
		idx, ok := byID[rid]
		if !ok {
			claims = append(claims, model.Requirement{ID: rid, DocID: rdoc, Text: rtext, Label: model.TrustLabel(rlabel)})
			idx = len(claims) - 1
			byID[rid] = idx
		}
		if pid.Valid {
			claims[idx].Provenance = append(claims[idx].Provenance, model.ProvenanceLink{
				ID: pid.String, Kind: model.ProvenanceKind(pkind.String), RefID: pref.String,
			})
		}
	}
	return claims, eris.Wrap(rows.Err(), "sqlite: load claims iterate")
}

// SavePacket persists a version with its documents, claims, provenance
// links, and strength snapshots in one transaction. The version number
// is assigned here: next per (project, cycle).
func (s *SQLiteStore) SavePacket(ctx context.Context, p *model.Packet, strengths []model.DocStrength) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save packet")
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM contract_versions WHERE project_id = ? AND cycle = ?`,
		p.Version.ProjectID, p.Version.Cycle,
	).Scan(&next)
	if err != nil {
		return eris.Wrap(err, "sqlite: next contract version")
	}

	if p.Version.ID == "" {
		p.Version.ID = uuid.New().String()
	}
	p.Version.Version = next
	p.Version.CreatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO contract_versions (id, project_id, cycle, version, input_fingerprint, status, mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Version.ID, p.Version.ProjectID, p.Version.Cycle, p.Version.Version,
		p.Version.InputFingerprint, string(p.Version.Status), p.Version.Mode, p.Version.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert contract version")
	}

	for i := range p.Docs {
		doc := &p.Docs[i]
		if doc.ID == "" {
			doc.ID = uuid.New().String()
		}
		doc.VersionID = p.Version.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO contract_docs (id, version_id, role_id, title, body) VALUES (?, ?, ?, ?, ?)`,
			doc.ID, doc.VersionID, doc.RoleID, doc.Title, doc.Body,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert doc role %d", doc.RoleID)
		}
		for j := range doc.Claims {
			claim := &doc.Claims[j]
			if claim.ID == "" {
				claim.ID = uuid.New().String()
			}
			claim.DocID = doc.ID
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO requirements (id, doc_id, text, label) VALUES (?, ?, ?, ?)`,
				claim.ID, claim.DocID, claim.Text, string(claim.Label),
			); err != nil {
				return eris.Wrap(err, "sqlite: insert requirement")
			}
			for k := range claim.Provenance {
				link := &claim.Provenance[k]
				if link.ID == "" {
					link.ID = uuid.New().String()
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO provenance_links (id, requirement_id, kind, ref_id) VALUES (?, ?, ?, ?)`,
					link.ID, claim.ID, string(link.Kind), link.RefID,
				); err != nil {
					return eris.Wrap(err, "sqlite: insert provenance link")
				}
			}
		}
	}

	for _, st := range strengths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO doc_strengths (version_id, role_id, word_count, claim_count,
			                            provenance_coverage, unknown_claims, weak)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Version.ID, st.RoleID, st.WordCount, st.ClaimCount,
			st.ProvenanceCoverage, st.UnknownClaims, boolInt(st.Weak),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert doc strength")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save packet")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e *model.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, project_id, cycle, kind, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Cycle, e.Kind, string(e.Detail), e.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append audit")
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
