package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/jingkaihe/skillcast/pkg/types/learning"
)

// Generate builds a ProjectFingerprint from raw signals. The hash is
// derived from four independently hashed signal sets combined in fixed
// order, so identical signal sets always yield identical fingerprints.
// Empty signals produce the well-known "unknown" fingerprint rather than
// an error.
func Generate(sig Signals) learning.ProjectFingerprint {
	tech := normalizeSet(sig.Technologies)
	arch := normalizeSet(sig.Architecture)
	domain := normalizeSet(sig.DomainKeywords)
	conv := normalizeSet(sig.Conventions)

	teamSize := sig.TeamSize
	if teamSize == "" {
		teamSize = learning.TeamSmall
	}

	combined := sha256.New()
	for _, set := range [][]string{tech, arch, domain, conv} {
		sub := hashSet(set)
		combined.Write(sub[:])
	}

	return learning.ProjectFingerprint{
		Hash: hex.EncodeToString(combined.Sum(nil))[:32],
		Features: learning.FingerprintFeatures{
			Technologies:   tech,
			Architecture:   arch,
			DomainKeywords: domain,
			Conventions:    conv,
			TeamSize:       teamSize,
		},
		ComputedAt: time.Now().UTC(),
	}
}

// FromProject detects signals under root and generates the fingerprint in
// one step.
func FromProject(root string) learning.ProjectFingerprint {
	return Generate(DetectSignals(root))
}

// Unknown returns the fingerprint produced when no project signals are
// detectable. Prediction for an unknown project leans entirely on the
// shared pool.
func Unknown() learning.ProjectFingerprint {
	return Generate(Signals{})
}

func hashSet(sorted []string) [32]byte {
	return sha256.Sum256([]byte(strings.Join(sorted, "\n")))
}

// normalizeSet lowercases, trims, deduplicates, and sorts so that hashing
// is independent of detection order.
func normalizeSet(values []string) []string {
	set := map[string]bool{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
