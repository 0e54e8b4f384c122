package ruleset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashInput identifies one policy instance contributing to a snapshot.
// The ordered root-to-leaf list of these is part of the content hash, so a
// version bump anywhere in the ancestry produces a new hash even when the
// merged ruleset happens to be identical.
type HashInput struct {
	PolicyID string `json:"policy_id"`
	Version  int    `json:"version"`
}

// Canonicalize renders a ruleset in RFC 8785 canonical form: sorted keys,
// normalized number and string representations.
func Canonicalize(rs Ruleset) ([]byte, error) {
	raw, err := json.Marshal(map[string]any(rs))
	if err != nil {
		return nil, fmt.Errorf("Canonicalize: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("Canonicalize: %w", err)
	}
	return canon, nil
}

// ContentHash computes the snapshot content hash: SHA-256 over the
// canonical merged ruleset concatenated with the canonical ordered
// hash-input list. Hex encoded.
func ContentHash(rs Ruleset, inputs []HashInput) (string, error) {
	canon, err := Canonicalize(rs)
	if err != nil {
		return "", err
	}
	inputsRaw, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("ContentHash: %w", err)
	}
	inputsCanon, err := jcs.Transform(inputsRaw)
	if err != nil {
		return "", fmt.Errorf("ContentHash: %w", err)
	}
	h := sha256.New()
	h.Write(canon)
	h.Write([]byte{'\n'})
	h.Write(inputsCanon)
	return hex.EncodeToString(h.Sum(nil)), nil
}
