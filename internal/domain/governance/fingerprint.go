package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint generates the deterministic dedup key over (critic_type,
// finding_type, proposed_change). episode_id, timestamp, and description are
// deliberately excluded: the same proposal can recur across episodes, and
// human text and temporal variance carry no identity. Grounded on
// fingerprint.fingerprint_proposal, with Go's sorted-map-key marshaling
// standing in for json.dumps(sort_keys=True).
func Fingerprint(criticType CriticType, findingType string, proposedChange map[string]any) (string, error) {
	payload := map[string]any{
		"critic_type":     criticType,
		"finding_type":    findingType,
		"proposed_change": proposedChange,
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
