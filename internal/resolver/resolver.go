package resolver

import (
	"context"

	"github.com/infraweave-io/infraweave/internal/catalog"
	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/infraweave-io/infraweave/pkg/semver"
)

// Claim is the parsed claim document a caller submits: apiVersion/kind
// name the target catalog entry, spec carries the requested variables
// and metadata.
type Claim struct {
	APIVersion string
	Kind       string // "Module" | "Stack"
	Metadata   struct {
		Name      string
		Namespace string
	}
	Spec struct {
		ModuleName      string
		StackName       string
		Track           models.Track
		Version         string // optional; resolves LATEST when empty
		Variables       map[string]any
		DriftDetection  models.DriftDetectionConfig
	}
}

// Context carries the project/region scope and the implicit
// INFRAWEAVE_* values the compiler merges into the resolved plan.
type Context struct {
	Project     string
	Region      string
	Environment string
	GitProvenance models.GitProvenance
}

// ResolvedPlan is the resolver's step-6 output, everything the
// orchestrator needs to launch a runner.
type ResolvedPlan struct {
	Entry             *models.CatalogEntry
	RootArtifactDigest string
	InputMap          map[string]any
	Providers         []models.ProviderRequirement
	DependencyRefs    []models.DependencyRef
}

// Resolver implements spec.md §4.3's claim resolution algorithm.
type Resolver struct {
	catalog *catalog.Service
	lookup  OutputLookup
}

// New constructs a Resolver against a catalog service and an output
// lookup function reading last-known deployment outputs.
func New(cat *catalog.Service, lookup OutputLookup) *Resolver {
	return &Resolver{catalog: cat, lookup: lookup}
}

var reservedVariableNames = map[string]bool{
	"INFRAWEAVE_DEPLOYMENT_ID": true, "INFRAWEAVE_ENVIRONMENT": true,
	"INFRAWEAVE_REFERENCE": true, "INFRAWEAVE_MODULE_TRACK": true,
	"INFRAWEAVE_MODULE_TYPE": true, "INFRAWEAVE_MODULE_VERSION": true,
	"INFRAWEAVE_DRIFT_DETECTION_ENABLED": true, "INFRAWEAVE_GIT_COMMITTER": true,
	"INFRAWEAVE_GIT_SHA": true, "INFRAWEAVE_GIT_REPO": true,
}

// Resolve runs the six-step algorithm and returns a ResolvedPlan.
func (r *Resolver) Resolve(ctx context.Context, claim Claim, deploymentID string, execCtx Context) (*ResolvedPlan, error) {
	// Step 1: parse/shape check.
	if claim.APIVersion == "" {
		return nil, appErr.New(appErr.KindMalformed, "claim.apiVersion is required")
	}
	var typ models.ModuleType
	var name string
	switch claim.Kind {
	case "Module":
		typ = models.ModuleTypeModule
		name = claim.Spec.ModuleName
	case "Stack":
		typ = models.ModuleTypeStack
		name = claim.Spec.StackName
	default:
		return nil, appErr.Newf(appErr.KindMalformed, "unknown claim kind %q", claim.Kind)
	}
	if name == "" {
		return nil, appErr.New(appErr.KindMalformed, "claim target name is required")
	}
	if claim.Spec.Variables == nil {
		claim.Spec.Variables = map[string]any{}
	}
	track := claim.Spec.Track
	if !track.Valid() {
		track = models.TrackStable
	}

	// Step 2: resolve target.
	entry, err := r.resolveVersion(ctx, typ, track, name, claim.Spec.Version)
	if err != nil {
		return nil, err
	}

	// Step 3: validate inputs against the schema.
	if err := r.validateInputs(claim.Spec.Variables, entry.Variables); err != nil {
		return nil, err
	}

	// Step 4: interpolate cross-deployment references.
	graph := NewDepGraph()
	inputs := make(map[string]any, len(claim.Spec.Variables))
	var depRefs []models.DependencyRef
	for k, v := range claim.Spec.Variables {
		resolved, refs, err := r.interpolateValue(v, claim.Kind, claim.Metadata.Name, graph)
		if err != nil {
			return nil, err
		}
		inputs[k] = resolved
		depRefs = append(depRefs, refs...)
	}

	// Step 5: merge implicit INFRAWEAVE_* variables; caller-provided
	// reserved names are ignored per spec.md §4.3 step 5.
	for reserved := range reservedVariableNames {
		delete(inputs, reserved)
	}
	inputs["INFRAWEAVE_DEPLOYMENT_ID"] = deploymentID
	inputs["INFRAWEAVE_ENVIRONMENT"] = execCtx.Environment
	inputs["INFRAWEAVE_REFERENCE"] = entry.Reference
	inputs["INFRAWEAVE_MODULE_TRACK"] = string(entry.Track)
	inputs["INFRAWEAVE_MODULE_TYPE"] = string(entry.Type)
	inputs["INFRAWEAVE_MODULE_VERSION"] = entry.Version
	inputs["INFRAWEAVE_DRIFT_DETECTION_ENABLED"] = claim.Spec.DriftDetection.Enabled
	inputs["INFRAWEAVE_GIT_COMMITTER"] = execCtx.GitProvenance.Committer
	inputs["INFRAWEAVE_GIT_SHA"] = execCtx.GitProvenance.SHA
	inputs["INFRAWEAVE_GIT_REPO"] = execCtx.GitProvenance.Repo

	// Step 6: emit the resolved plan.
	return &ResolvedPlan{
		Entry:              entry,
		RootArtifactDigest: entry.ArtifactDigest,
		InputMap:           inputs,
		Providers:          entry.Providers,
		DependencyRefs:     depRefs,
	}, nil
}

// resolveVersion picks the highest semver on track matching a pin, or
// the track's LATEST#… pointer when no version is given, honoring the
// pre-release eligibility tie-break of spec.md §4.3.
func (r *Resolver) resolveVersion(ctx context.Context, typ models.ModuleType, track models.Track, name, pin string) (*models.CatalogEntry, error) {
	if pin != "" {
		if _, err := semver.Parse(pin); err == nil {
			return r.catalog.GetByVersion(ctx, typ, track, name, pin)
		}
		versions, err := r.catalog.ListVersions(ctx, typ, track, name)
		if err != nil {
			return nil, err
		}
		onlyStable := track != models.TrackDev
		matched, err := matchConstraint(versions, pin, onlyStable)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.KindMalformed, "invalid version constraint")
		}
		if matched == "" {
			return nil, appErr.Newf(appErr.KindNotFound, "no version of %s %s satisfies %q on track %s", typ, name, pin, track)
		}
		return r.catalog.GetByVersion(ctx, typ, track, name, matched)
	}
	return r.catalog.GetByVersion(ctx, typ, track, name, "")
}

func matchConstraint(versions []string, constraint string, onlyStable bool) (string, error) {
	var candidates []string
	for _, v := range versions {
		ok, err := semver.SatisfiesConstraint(v, constraint)
		if err != nil {
			return "", err
		}
		if ok {
			candidates = append(candidates, v)
		}
	}
	best, found := semver.Highest(candidates, onlyStable)
	if !found {
		return "", nil
	}
	return best, nil
}

// validateInputs implements step 3's four checks.
func (r *Resolver) validateInputs(provided map[string]any, schema []models.TfVariable) error {
	byName := make(map[string]models.TfVariable, len(schema))
	for _, v := range schema {
		byName[v.Name] = v
	}

	for k := range provided {
		if _, ok := byName[k]; !ok {
			return appErr.Newf(appErr.KindUnknownVariable, "unknown variable %q", k)
		}
	}

	for _, v := range schema {
		val, present := provided[v.Name]
		if !present {
			if !v.Nullable && v.Default == nil {
				return appErr.Newf(appErr.KindMissingRequired, "missing required variable %q", v.Name)
			}
			continue
		}
		if !typeMatches(v.Type, val) {
			return appErr.Newf(appErr.KindTypeMismatch, "variable %q expected type %s", v.Name, v.Type)
		}
		if v.Validation != "" {
			ok, err := catalog.EvaluatePredicate(v.Validation, val)
			if err != nil {
				return err
			}
			if !ok {
				return appErr.Newf(appErr.KindConstraintViolation, "variable %q failed validation %q", v.Name, v.Validation)
			}
		}
	}
	return nil
}

func typeMatches(declared string, val any) bool {
	if val == nil {
		return true
	}
	switch declared {
	case "", "any":
		return true
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case float64, int, int64:
			return true
		default:
			return false
		}
	case "bool", "boolean":
		_, ok := val.(bool)
		return ok
	case "list", "set", "array":
		_, ok := val.([]any)
		return ok
	case "map", "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

// interpolateValue walks a value that may be a bare interpolation
// string, a string containing embedded interpolations, or a nested
// list/map carrying either, applying interpolateString to every string
// leaf.
func (r *Resolver) interpolateValue(v any, rootKind, rootName string, graph *DepGraph) (any, []models.DependencyRef, error) {
	switch val := v.(type) {
	case string:
		return interpolateString(val, rootKind, rootName, graph, r.lookup)
	case []any:
		out := make([]any, len(val))
		var refs []models.DependencyRef
		for i, e := range val {
			resolved, r2, err := r.interpolateValue(e, rootKind, rootName, graph)
			if err != nil {
				return nil, nil, err
			}
			out[i] = resolved
			refs = append(refs, r2...)
		}
		return out, refs, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		var refs []models.DependencyRef
		for k, e := range val {
			resolved, r2, err := r.interpolateValue(e, rootKind, rootName, graph)
			if err != nil {
				return nil, nil, err
			}
			out[k] = resolved
			refs = append(refs, r2...)
		}
		return out, refs, nil
	default:
		return val, nil, nil
	}
}

// CheckProviderCompatibility validates that a stack's claimed modules do
// not pin incompatible versions of the same provider, per spec.md §4.3's
// ProviderConflict tie-break.
func CheckProviderCompatibility(providers []models.ProviderRequirement) error {
	seen := map[string]string{}
	for _, p := range providers {
		if p.Version == "" {
			continue
		}
		if existing, ok := seen[p.Name]; ok && existing != p.Version {
			return appErr.Newf(appErr.KindProviderConflict, "provider %q pinned to incompatible versions %q and %q", p.Name, existing, p.Version)
		}
		seen[p.Name] = p.Version
	}
	return nil
}
