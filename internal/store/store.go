package store

import (
	"context"

	"github.com/sells-group/intake-cli/internal/model"
)

// Store defines the persistence interface for the intake engine. Lookup
// methods return (nil, nil) when no row matches.
type Store interface {
	// Turns
	AppendTurn(ctx context.Context, projectID string, cycle int, actor model.Actor, text string) (*model.Turn, error)
	ListTurns(ctx context.Context, projectID string, cycle int) ([]model.Turn, error)

	// Decision ledger (dumb keyed rows; upsert rules live in internal/ledger)
	GetDecision(ctx context.Context, projectID string, cycle int, key string) (*model.DecisionItem, error)
	PutDecision(ctx context.Context, d *model.DecisionItem) error
	ListDecisions(ctx context.Context, projectID string, cycle int) ([]model.DecisionItem, error)

	// Artifacts
	GetArtifact(ctx context.Context, projectID string, cycle int, typ model.ArtifactType, reference string) (*model.ArtifactInput, error)
	GetArtifactByID(ctx context.Context, id string) (*model.ArtifactInput, error)
	CreateArtifact(ctx context.Context, a *model.ArtifactInput) error
	UpdateArtifact(ctx context.Context, a *model.ArtifactInput) error
	ListArtifacts(ctx context.Context, projectID string, cycle int) ([]model.ArtifactInput, error)

	// Ingest runs (deduplicated by idempotency key)
	GetIngestRunByKey(ctx context.Context, key string) (*model.ArtifactIngestRun, error)
	CreateIngestRun(ctx context.Context, r *model.ArtifactIngestRun) error

	// Summaries and pages
	LatestSummary(ctx context.Context, artifactID string) (*model.ArtifactSummary, error)
	AppendSummary(ctx context.Context, s *model.ArtifactSummary) error
	SavePage(ctx context.Context, p *model.ArtifactPage) error

	// Checkpoints
	GetCheckpointByKey(ctx context.Context, key string) (*model.Checkpoint, error)
	CreateCheckpoint(ctx context.Context, c *model.Checkpoint) error
	PendingCheckpoint(ctx context.Context, projectID string, cycle int) (*model.Checkpoint, error)
	ResolveCheckpoint(ctx context.Context, id string, status model.CheckpointStatus, turnID string) error

	// Contracts
	GetPacketByFingerprint(ctx context.Context, projectID string, cycle int, fingerprint string) (*model.Packet, error)
	SavePacket(ctx context.Context, p *model.Packet, strengths []model.DocStrength) error

	// Audit
	AppendAudit(ctx context.Context, e *model.AuditEvent) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
