package catalog

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/infraweave-io/infraweave/pkg/semver"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateManifestShape checks the structural requirements spec.md §4.2
// step 1 lists: required fields present, semver legal, variable types
// parseable.
func validateManifestShape(typ models.ModuleType, m models.ModuleManifest) error {
	if m.APIVersion != "infraweave.io/v1" {
		return appErr.Newf(appErr.KindMalformed, "unsupported apiVersion %q", m.APIVersion)
	}
	if m.Metadata.Name == "" {
		return appErr.New(appErr.KindMalformed, "metadata.name is required")
	}
	if m.Spec.Version == "" {
		return appErr.New(appErr.KindMalformed, "spec.version is required")
	}
	if _, err := semver.Parse(m.Spec.Version); err != nil {
		return appErr.Wrap(err, appErr.KindMalformed, "spec.version is not legal semver")
	}
	if typ != models.ModuleTypeProvider && m.Spec.ModuleName == "" {
		return appErr.New(appErr.KindMalformed, "spec.moduleName is required")
	}
	if typ == models.ModuleTypeStack && len(m.Spec.Claims) == 0 {
		return appErr.New(appErr.KindMalformed, "a stack manifest requires at least one claim")
	}
	return nil
}

var legalVariableTypes = map[string]bool{
	"string": true, "number": true, "bool": true, "boolean": true,
	"list": true, "map": true, "set": true, "object": true, "array": true, "any": true,
}

// validateVariableTypes rejects a variable schema whose declared type is
// not one the compiler's hclType() function and the resolver's
// TypeMismatch check both understand.
func validateVariableTypes(vars []models.TfVariable) error {
	for _, v := range vars {
		if v.Name == "" {
			return appErr.New(appErr.KindMalformed, "variable with empty name")
		}
		t := strings.ToLower(v.Type)
		if t == "" {
			continue
		}
		if !legalVariableTypes[t] {
			return appErr.Newf(appErr.KindMalformed, "variable %q has unparseable type %q", v.Name, v.Type)
		}
	}
	return nil
}

// jsonSchemaType maps a manifest variable's declared type to the JSON
// Schema type keyword used to validate example variable sets, per
// spec.md §4.2 step 1's "examples must satisfy the declared schema"
// requirement.
func jsonSchemaType(t string) string {
	switch strings.ToLower(t) {
	case "number":
		return "number"
	case "bool", "boolean":
		return "boolean"
	case "list", "set", "array":
		return "array"
	case "map", "object":
		return "object"
	default:
		return "string"
	}
}

// buildExampleSchema renders vars into a JSON Schema object requiring
// every non-nullable, default-less variable, following the same
// AddResource/Compile flow the pack's firewall.PolicyFirewall uses to
// validate tool call parameters against a per-tool schema.
func buildExampleSchema(name string, vars []models.TfVariable) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(vars))
	required := make([]string, 0, len(vars))
	for _, v := range vars {
		properties[v.Name] = map[string]any{"type": jsonSchemaType(v.Type)}
		if !v.Nullable && v.Default == nil {
			required = append(required, v.Name)
		}
	}
	schemaDoc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "encoding example schema")
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "https://infraweave.io/catalog/" + name + ".schema.json"
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, appErr.Wrap(err, appErr.KindMalformed, "loading example schema")
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindMalformed, "compiling example schema")
	}
	return compiled, nil
}

// validateExamples checks that every manifest example's variable set
// satisfies the schema derived from the module's own variables.
func validateExamples(name string, vars []models.TfVariable, examples []models.ModuleExample) error {
	if len(examples) == 0 {
		return nil
	}
	schema, err := buildExampleSchema(name, vars)
	if err != nil {
		return err
	}
	for _, ex := range examples {
		if err := schema.Validate(ex.Variables); err != nil {
			return appErr.Wrap(err, appErr.KindConstraintViolation, "example "+ex.Name+" fails variable schema")
		}
	}
	return nil
}

// celEnv is the shared CEL environment for the general predicate
// expression case of variable validation (spec.md §4.3 step 3), grounded
// on the pack's governance.CELPolicyEvaluator: a dynamic "value" input
// variable, cached compiled programs keyed by expression text.
var celEnv, _ = cel.NewEnv(cel.Variable("value", cel.DynType))

var (
	celProgramCacheMu sync.RWMutex
	celProgramCache   = map[string]cel.Program{}
)

func compileCEL(expr string) (cel.Program, error) {
	celProgramCacheMu.RLock()
	prg, ok := celProgramCache[expr]
	celProgramCacheMu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := celEnv.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, err
	}

	celProgramCacheMu.Lock()
	celProgramCache[expr] = prg
	celProgramCacheMu.Unlock()
	return prg, nil
}

// EvaluatePredicate checks value against a variable's Validation
// predicate, per spec.md §4.3 step 3's regex/length/enum shorthand forms
// plus the general CEL expression fallback. Shorthand forms:
//
//	regex:<pattern>     value must match pattern
//	len:<min>:<max>     string/list length must fall in [min, max]
//	enum:<a>,<b>,<c>    value must equal one of the listed strings
//
// Anything else is compiled and evaluated as a CEL expression over a
// single `value` variable, expected to return a bool.
func EvaluatePredicate(predicate string, value any) (bool, error) {
	if predicate == "" {
		return true, nil
	}

	switch {
	case strings.HasPrefix(predicate, "regex:"):
		return evalRegex(strings.TrimPrefix(predicate, "regex:"), value)
	case strings.HasPrefix(predicate, "len:"):
		return evalLength(strings.TrimPrefix(predicate, "len:"), value)
	case strings.HasPrefix(predicate, "enum:"):
		return evalEnum(strings.TrimPrefix(predicate, "enum:"), value)
	}

	prg, err := compileCEL(predicate)
	if err != nil {
		return false, appErr.Wrap(err, appErr.KindConstraintViolation, "predicate compile failed")
	}
	out, _, err := prg.Eval(map[string]any{"value": value})
	if err != nil {
		return false, appErr.Wrap(err, appErr.KindConstraintViolation, "predicate evaluation failed")
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, appErr.New(appErr.KindConstraintViolation, "predicate did not evaluate to a bool")
	}
	return b, nil
}

func evalRegex(pattern string, value any) (bool, error) {
	s, ok := value.(string)
	if !ok {
		return false, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, appErr.Wrap(err, appErr.KindConstraintViolation, "invalid regex predicate")
	}
	return re.MatchString(s), nil
}

func evalLength(spec string, value any) (bool, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return false, appErr.New(appErr.KindConstraintViolation, "malformed len predicate, expected len:min:max")
	}
	min, err := strconv.Atoi(parts[0])
	if err != nil {
		return false, appErr.Wrap(err, appErr.KindConstraintViolation, "malformed len predicate min")
	}
	max, err := strconv.Atoi(parts[1])
	if err != nil {
		return false, appErr.Wrap(err, appErr.KindConstraintViolation, "malformed len predicate max")
	}

	var n int
	switch v := value.(type) {
	case string:
		n = len(v)
	case []any:
		n = len(v)
	default:
		return false, nil
	}
	return n >= min && n <= max, nil
}

func evalEnum(spec string, value any) (bool, error) {
	s, ok := value.(string)
	if !ok {
		return false, nil
	}
	for _, candidate := range strings.Split(spec, ",") {
		if s == strings.TrimSpace(candidate) {
			return true, nil
		}
	}
	return false, nil
}

