// Package contract generates, validates, and persists the ten-document
// requirements packet. Commit is idempotent: unchanged interview inputs
// fingerprint to the same value and return the prior packet.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

// fingerprintTurn is the canonical turn shape hashed into the
// fingerprint. Only content fields participate; timestamps and row ids
// would break idempotency across replays.
type fingerprintTurn struct {
	Index int    `json:"index"`
	Actor string `json:"actor"`
	Text  string `json:"text"`
}

type fingerprintDecision struct {
	Key         string `json:"key"`
	Claim       string `json:"claim"`
	Label       string `json:"label"`
	Lock        string `json:"lock"`
	HasConflict bool   `json:"has_conflict"`
}

// Fingerprint hashes the canonical JSON of all turns plus all decisions
// sorted by key. Two commits over identical interview state produce the
// same fingerprint.
func Fingerprint(turns []model.Turn, decisions []model.DecisionItem) (string, error) {
	fts := make([]fingerprintTurn, len(turns))
	for i, t := range turns {
		fts[i] = fingerprintTurn{Index: t.Index, Actor: string(t.Actor), Text: t.Text}
	}
	sort.Slice(fts, func(i, j int) bool { return fts[i].Index < fts[j].Index })

	fds := make([]fingerprintDecision, len(decisions))
	for i, d := range decisions {
		fds[i] = fingerprintDecision{
			Key:         d.DecisionKey,
			Claim:       d.Claim,
			Label:       string(d.Label),
			Lock:        string(d.Lock),
			HasConflict: d.HasConflict,
		}
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i].Key < fds[j].Key })

	payload, err := json.Marshal(struct {
		Turns     []fingerprintTurn     `json:"turns"`
		Decisions []fingerprintDecision `json:"decisions"`
	}{fts, fds})
	if err != nil {
		return "", eris.Wrap(err, "contract: marshal fingerprint input")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
