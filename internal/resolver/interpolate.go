package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

// interpolationPattern matches `{{ Kind::deploymentName::outputName }}`,
// with optional surrounding whitespace inside the braces, per spec.md
// §4.3 step 4.
var interpolationPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)::([A-Za-z0-9_.-]+)::([A-Za-z0-9_.-]+)\s*\}\}`)

// OutputLookup resolves a referenced deployment's last-known outputs
// within the caller's project+region scope.
type OutputLookup func(kind, name string) (outputs map[string]any, found bool, err error)

// interpolateString rewrites every `{{ Kind::name::output }}` reference
// in raw with the referenced deployment's output value, recording each
// reference as an edge in graph from (rootKind, rootName). A whole-string
// match that is exactly one reference returns the output's native value
// (not stringified); references embedded in a larger string are
// stringified in place.
func interpolateString(raw, rootKind, rootName string, graph *DepGraph, lookup OutputLookup) (any, []models.DependencyRef, error) {
	if !interpolationPattern.MatchString(raw) {
		return raw, nil, nil
	}

	var refs []models.DependencyRef
	resolve := func(kind, name, output string) (any, error) {
		if err := graph.AddEdge(rootKind, rootName, kind, name); err != nil {
			return nil, err
		}
		outputs, found, err := lookup(kind, name)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.KindInternal, "resolving dependency reference")
		}
		if !found {
			return nil, appErr.Newf(appErr.KindUnresolvedDependency, "no deployment %s::%s in scope", kind, name)
		}
		value, ok := outputs[output]
		if !ok {
			return nil, appErr.Newf(appErr.KindUnresolvedDependency, "deployment %s::%s has no output %q", kind, name, output)
		}
		refs = append(refs, models.DependencyRef{Kind: kind, Name: name, Output: output})
		return value, nil
	}

	if m := interpolationPattern.FindStringSubmatch(raw); m != nil && m[0] == raw {
		v, err := resolve(m[1], m[2], m[3])
		if err != nil {
			return nil, nil, err
		}
		return v, refs, nil
	}

	out := raw
	for {
		loc := interpolationPattern.FindStringSubmatchIndex(out)
		if loc == nil {
			break
		}
		groups := interpolationPattern.FindStringSubmatch(out)
		v, err := resolve(groups[1], groups[2], groups[3])
		if err != nil {
			return nil, nil, err
		}
		out = out[:loc[0]] + stringifyValue(v) + out[loc[1]:]
	}
	return out, refs, nil
}

func stringifyValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
