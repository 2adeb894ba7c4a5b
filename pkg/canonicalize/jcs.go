// Package canonicalize produces RFC 8785 canonical JSON for content-addressed
// digests: artifact digests at publish time need a byte-stable
// representation independent of map key order or marshal whitespace.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform: %w", err)
	}
	return canonical, nil
}

// Hash returns the SHA-256 hex digest of v's canonical JSON representation.
func Hash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes, used to digest an
// artifact zip alongside its canonicalized manifest.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ArtifactDigest combines a manifest's canonical digest with an artifact
// zip's raw digest into the single root_artifact_digest referenced
// throughout the claim resolver and orchestrator.
func ArtifactDigest(manifest any, zipBytes []byte) (string, error) {
	manifestHash, err := Hash(manifest)
	if err != nil {
		return "", err
	}
	combined := manifestHash + ":" + HashBytes(zipBytes)
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:]), nil
}
