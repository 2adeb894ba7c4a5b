// Package semver provides track-aware version ordering for the catalog and
// resolver: "highest semver on a track", with pre-release versions only
// eligible on the dev track or under an exact pin.
package semver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Parse parses a version string, returning an error for anything that is
// not legal semver.
func Parse(v string) (*semver.Version, error) {
	return semver.NewVersion(v)
}

// IsPrerelease reports whether v carries a hyphenated pre-release suffix.
func IsPrerelease(v *semver.Version) bool {
	return v.Prerelease() != ""
}

// Highest returns the highest version among versions, honoring the
// track/pin pre-release eligibility rule: a pre-release version is only
// considered unless onlyStable is set. Returns "", false if no candidate
// qualifies.
func Highest(versions []string, onlyStable bool) (string, bool) {
	var best *semver.Version
	var bestRaw string
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if onlyStable && IsPrerelease(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}
	if best == nil {
		return "", false
	}
	return bestRaw, true
}

// Sort sorts versions ascending by semver precedence, dropping any value
// that does not parse as legal semver.
func Sort(versions []string) []string {
	type pair struct {
		raw string
		v   *semver.Version
	}
	pairs := make([]pair, 0, len(versions))
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		pairs = append(pairs, pair{raw: raw, v: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v.LessThan(pairs[j].v) })
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.raw
	}
	return out
}

// SatisfiesConstraint reports whether version satisfies the given
// constraint range (e.g. "~> 1.2", ">=1.0.0, <2.0.0"), used to validate a
// stack's pinned provider versions against the catalog. A two-part
// "~> X.Y" term follows Terraform's pessimistic operator: >= X.Y, < X+1.0.0.
func SatisfiesConstraint(version, constraint string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, err
	}
	var terms []string
	for _, term := range strings.Split(constraint, ",") {
		t := strings.TrimSpace(term)
		base := strings.TrimSpace(strings.TrimPrefix(t, "~>"))
		if strings.HasPrefix(t, "~>") && strings.Count(base, ".") == 1 {
			if bv, perr := semver.NewVersion(base); perr == nil {
				term = fmt.Sprintf(">= %s, < %s", bv, bv.IncMajor().String())
			}
		}
		terms = append(terms, term)
	}
	c, err := semver.NewConstraint(strings.Join(terms, ","))
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}
