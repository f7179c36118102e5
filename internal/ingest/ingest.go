package ingest

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/store"
)

// Service runs the full ingest pipeline for one artifact reference:
// canonicalize, dedupe against prior runs, fetch, extract, summarize,
// persist. Failures degrade the artifact to a recorded failed state and
// never fail the surrounding turn.
type Service struct {
	store      store.Store
	fetcher    *Fetcher
	summarizer *Summarizer

	// skipRefCheck accepts plain-http loopback references so tests can
	// ingest from httptest servers.
	skipRefCheck bool
}

func NewService(st store.Store, fetcher *Fetcher, summarizer *Summarizer) *Service {
	return &Service{store: st, fetcher: fetcher, summarizer: summarizer}
}

// Result reports what one Ingest call did.
type Result struct {
	Artifact *model.ArtifactInput
	Run      *model.ArtifactIngestRun
	Summary  *model.ArtifactSummary
	Reused   bool
	Failed   bool
}

// Ingest processes one website reference for a project cycle. The same
// reference ingested twice converges on one artifact, one run, and one
// summary version, unless forceRefresh bypasses the prior run.
func (s *Service) Ingest(ctx context.Context, projectID string, cycle int, reference string, forceRefresh bool) (*Result, error) {
	canonical, err := s.canonicalRef(reference)
	if err != nil {
		// Invalid or blocked references are recorded without any fetch.
		art, recErr := s.recordFailure(ctx, projectID, cycle, reference, "", err)
		if recErr != nil {
			return nil, recErr
		}
		return &Result{Artifact: art, Failed: true}, nil
	}

	art, err := s.ensureArtifact(ctx, projectID, cycle, reference, canonical)
	if err != nil {
		return nil, err
	}

	key := Key(projectID, cycle, canonical)
	prior, err := s.store.GetIngestRunByKey(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: look up prior run")
	}
	if prior != nil && !forceRefresh {
		summary, err := s.store.LatestSummary(ctx, art.ID)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: load latest summary")
		}
		zap.L().Info("ingest: reusing prior run",
			zap.String("artifact_id", art.ID),
			zap.String("outcome", prior.Outcome),
		)
		return &Result{
			Artifact: art,
			Run:      prior,
			Summary:  summary,
			Reused:   true,
			Failed:   prior.Outcome != "ok",
		}, nil
	}

	fetched, err := s.fetcher.Fetch(ctx, canonical)
	if err != nil {
		return s.failRun(ctx, art, key, err, 0, 0, false)
	}

	extracted, err := Extract(fetched.Body, fetched.ContentType)
	if err != nil {
		return s.failRun(ctx, art, key, err, len(fetched.Body), fetched.Redirects, fetched.Truncated)
	}

	page := &model.ArtifactPage{
		ID:         uuid.New().String(),
		ArtifactID: art.ID,
		URL:        fetched.FinalURL,
		Text:       extracted.Text,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SavePage(ctx, page); err != nil {
		return nil, eris.Wrap(err, "ingest: save page")
	}

	sum := s.summarizer.Summarize(ctx, canonical, extracted.Title, extracted.Text)
	summary := &model.ArtifactSummary{
		ID:         uuid.New().String(),
		ArtifactID: art.ID,
		Text:       sum.Text,
		Confidence: sum.Confidence,
		Source:     model.SummaryMachine,
		PageIDs:    []string{page.ID},
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AppendSummary(ctx, summary); err != nil {
		return nil, eris.Wrap(err, "ingest: append summary")
	}

	run := &model.ArtifactIngestRun{
		ID:             uuid.New().String(),
		ArtifactID:     art.ID,
		IdempotencyKey: key,
		Outcome:        "ok",
		BytesFetched:   len(fetched.Body),
		Redirects:      fetched.Redirects,
		Truncated:      fetched.Truncated,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateIngestRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "ingest: create run")
	}

	art.IngestState = model.IngestComplete
	if fetched.Truncated {
		art.IngestState = model.IngestPartial
	}
	art.LatestSummary = summary.Text
	art.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateArtifact(ctx, art); err != nil {
		return nil, eris.Wrap(err, "ingest: update artifact")
	}

	s.audit(ctx, projectID, cycle, "artifact_ingested", map[string]any{
		"artifact_id": art.ID,
		"run_id":      run.ID,
		"bytes":       run.BytesFetched,
		"truncated":   run.Truncated,
		"fallback":    sum.Fallback,
	})

	return &Result{Artifact: art, Run: run, Summary: summary}, nil
}

// canonicalRef normalizes the reference, skipping the scheme and host
// rules when the test hook is set.
func (s *Service) canonicalRef(raw string) (string, error) {
	if !s.skipRefCheck {
		return Canonicalize(raw)
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", codedErr(model.IngestErrInvalidURL, "parse %q", raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// ensureArtifact finds or creates the single artifact row for this
// reference.
func (s *Service) ensureArtifact(ctx context.Context, projectID string, cycle int, reference, canonical string) (*model.ArtifactInput, error) {
	art, err := s.store.GetArtifact(ctx, projectID, cycle, model.ArtifactWebsite, reference)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: look up artifact")
	}
	if art != nil {
		return art, nil
	}
	now := time.Now().UTC()
	art = &model.ArtifactInput{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		Cycle:        cycle,
		Type:         model.ArtifactWebsite,
		Reference:    reference,
		CanonicalURL: canonical,
		IngestState:  model.IngestPending,
		VerifyState:  model.VerifyUnverified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateArtifact(ctx, art); err != nil {
		return nil, eris.Wrap(err, "ingest: create artifact")
	}
	return art, nil
}

// failRun persists a failed ingest run and flips the artifact to failed
// without surfacing the ingest error to the caller.
func (s *Service) failRun(ctx context.Context, art *model.ArtifactInput, key string, cause error, bytes, redirects int, truncated bool) (*Result, error) {
	code := ErrorCode(cause)
	run := &model.ArtifactIngestRun{
		ID:             uuid.New().String(),
		ArtifactID:     art.ID,
		IdempotencyKey: key,
		Outcome:        code,
		BytesFetched:   bytes,
		Redirects:      redirects,
		Truncated:      truncated,
		ErrorCode:      code,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateIngestRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "ingest: record failed run")
	}

	art.IngestState = model.IngestFailed
	art.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateArtifact(ctx, art); err != nil {
		return nil, eris.Wrap(err, "ingest: update failed artifact")
	}

	zap.L().Warn("ingest: run failed",
		zap.String("artifact_id", art.ID),
		zap.String("code", code),
		zap.Error(cause),
	)
	s.audit(ctx, art.ProjectID, art.Cycle, "artifact_ingest_failed", map[string]any{
		"artifact_id": art.ID,
		"error_code":  code,
	})

	return &Result{Artifact: art, Run: run, Failed: true}, nil
}

// recordFailure handles references rejected before any artifact existed
// (invalid URL, blocked host).
func (s *Service) recordFailure(ctx context.Context, projectID string, cycle int, reference, canonical string, cause error) (*model.ArtifactInput, error) {
	art, err := s.ensureArtifact(ctx, projectID, cycle, reference, canonical)
	if err != nil {
		return nil, err
	}
	res, err := s.failRun(ctx, art, Key(projectID, cycle, reference), cause, 0, 0, false)
	if err != nil {
		return nil, err
	}
	return res.Artifact, nil
}

func (s *Service) audit(ctx context.Context, projectID string, cycle int, kind string, detail map[string]any) {
	payload, _ := json.Marshal(detail)
	err := s.store.AppendAudit(ctx, &model.AuditEvent{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Cycle:     cycle,
		Kind:      kind,
		Detail:    payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("ingest: audit append failed", zap.Error(err))
	}
}
