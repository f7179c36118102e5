// Package readiness scores interview completeness and computes the
// commit gate. Scoring is a pure function of ledger, artifact, and
// checkpoint state; nothing here writes.
package readiness

import (
	"fmt"

	"github.com/sells-group/intake-cli/internal/model"
)

// BucketState is the completion state of one readiness bucket.
type BucketState string

const (
	BucketResolved   BucketState = "resolved"
	BucketMissing    BucketState = "missing"
	BucketInProgress BucketState = "in_progress"
)

// Bucket is one scored readiness dimension.
type Bucket struct {
	Name  string      `json:"name"`
	State BucketState `json:"state"`
}

// Inputs is everything the scorer reads.
type Inputs struct {
	Decisions         map[string]*model.DecisionItem
	Artifacts         []model.ArtifactInput
	PendingCheckpoint bool
	RichTurns         int
	UserTurns         int
}

// Report is one readiness evaluation.
type Report struct {
	Buckets      []Bucket `json:"buckets"`
	Score        int      `json:"score"`
	CoreReady    bool     `json:"core_ready"`
	QualityReady bool     `json:"quality_ready"`
	CommitGate   bool     `json:"commit_gate"`
	UnmetReasons []string `json:"unmet_reasons,omitempty"`
}

// Quality readiness thresholds: an explicit quality confirmation, or
// enough rich free-text evidence across the interview.
const (
	richTurnsAlone    = 3
	richTurnsWithLong = 2
	longInterviewMin  = 6
)

// Evaluate computes the six readiness buckets, the 0-100 score, and the
// core/quality/commit gates.
func Evaluate(in Inputs) *Report {
	r := &Report{}

	for _, key := range model.CoreDecisionKeys {
		r.Buckets = append(r.Buckets, Bucket{Name: key, State: decisionState(in.Decisions[key])})
	}
	r.Buckets = append(r.Buckets, Bucket{Name: "website_context", State: artifactState(in)})
	r.Buckets = append(r.Buckets, Bucket{Name: model.KeyQualitySignal, State: qualityState(in)})

	resolved := 0
	for _, b := range r.Buckets {
		if b.State == BucketResolved {
			resolved++
		}
	}
	r.Score = 100 * resolved / len(r.Buckets)

	r.CoreReady = true
	for _, key := range model.CoreDecisionKeys {
		d := in.Decisions[key]
		if d == nil || !d.ExplicitlyConfirmed() {
			r.CoreReady = false
			r.UnmetReasons = append(r.UnmetReasons, fmt.Sprintf("decision %q is not explicitly confirmed", key))
		}
	}
	for _, d := range in.Decisions {
		if d.HasConflict {
			r.CoreReady = false
			r.UnmetReasons = append(r.UnmetReasons, fmt.Sprintf("decision %q has an unresolved conflict", d.DecisionKey))
		}
	}
	if in.PendingCheckpoint {
		r.CoreReady = false
		r.UnmetReasons = append(r.UnmetReasons, "a verification checkpoint is still pending")
	}

	r.QualityReady = r.CoreReady && qualityMet(in)
	if r.CoreReady && !r.QualityReady {
		r.UnmetReasons = append(r.UnmetReasons, "quality signal is not established")
	}

	r.CommitGate = r.CoreReady && r.QualityReady
	return r
}

func decisionState(d *model.DecisionItem) BucketState {
	switch {
	case d == nil:
		return BucketMissing
	case d.ExplicitlyConfirmed() && !d.HasConflict:
		return BucketResolved
	default:
		return BucketInProgress
	}
}

// artifactState resolves the optional website-context bucket. No
// referenced artifact means there is nothing to verify.
func artifactState(in Inputs) BucketState {
	if len(in.Artifacts) == 0 {
		return BucketResolved
	}
	if in.PendingCheckpoint {
		return BucketInProgress
	}
	for _, a := range in.Artifacts {
		switch a.IngestState {
		case model.IngestPending, model.IngestPartial:
			return BucketInProgress
		}
	}
	return BucketResolved
}

func qualityState(in Inputs) BucketState {
	if qualityMet(in) {
		return BucketResolved
	}
	if d := in.Decisions[model.KeyQualitySignal]; d != nil || in.RichTurns > 0 {
		return BucketInProgress
	}
	return BucketMissing
}

func qualityMet(in Inputs) bool {
	if d := in.Decisions[model.KeyQualitySignal]; d != nil && d.ExplicitlyConfirmed() {
		return true
	}
	if in.RichTurns >= richTurnsAlone {
		return true
	}
	return in.RichTurns >= richTurnsWithLong && in.UserTurns >= longInterviewMin
}
