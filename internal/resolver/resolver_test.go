package resolver

import (
	"testing"

	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

func TestDepGraphDetectsCycle(t *testing.T) {
	g := NewDepGraph()
	if err := g.AddEdge("Module", "a", "Module", "b"); err != nil {
		t.Fatalf("unexpected error on first edge: %v", err)
	}
	if err := g.AddEdge("Module", "b", "Module", "c"); err != nil {
		t.Fatalf("unexpected error on second edge: %v", err)
	}
	err := g.AddEdge("Module", "c", "Module", "a")
	if !appErr.IsKind(err, appErr.KindCyclicDependency) {
		t.Fatalf("expected CyclicDependency, got %v", err)
	}
}

func TestInterpolateStringWholeMatchReturnsNativeValue(t *testing.T) {
	graph := NewDepGraph()
	lookup := func(kind, name string) (map[string]any, bool, error) {
		return map[string]any{"bucketArn": "arn:aws:s3:::demo"}, true, nil
	}
	v, refs, err := interpolateString("{{ Module::demo::bucketArn }}", "Module", "consumer", graph, lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "arn:aws:s3:::demo" {
		t.Fatalf("expected resolved value, got %v", v)
	}
	if len(refs) != 1 || refs[0].Name != "demo" || refs[0].Output != "bucketArn" {
		t.Fatalf("expected one dependency ref, got %v", refs)
	}
}

func TestInterpolateStringMissingReferenceIsUnresolvedDependency(t *testing.T) {
	graph := NewDepGraph()
	lookup := func(kind, name string) (map[string]any, bool, error) { return nil, false, nil }
	_, _, err := interpolateString("{{ Module::missing::out }}", "Module", "consumer", graph, lookup)
	if !appErr.IsKind(err, appErr.KindUnresolvedDependency) {
		t.Fatalf("expected UnresolvedDependency, got %v", err)
	}
}

func TestValidateInputsCatchesEachFailureKind(t *testing.T) {
	r := &Resolver{}
	schema := []models.TfVariable{
		{Name: "bucketName", Type: "string"},
		{Name: "count", Type: "number", Default: 1.0},
		{Name: "env", Type: "string", Validation: "enum:dev,prod"},
	}

	if err := r.validateInputs(map[string]any{"nope": "x"}, schema); !appErr.IsKind(err, appErr.KindUnknownVariable) {
		t.Fatalf("expected UnknownVariable, got %v", err)
	}
	if err := r.validateInputs(map[string]any{}, schema); !appErr.IsKind(err, appErr.KindMissingRequired) {
		t.Fatalf("expected MissingRequired, got %v", err)
	}
	if err := r.validateInputs(map[string]any{"bucketName": 5}, schema); !appErr.IsKind(err, appErr.KindTypeMismatch) {
		t.Fatalf("expected TypeMismatch, got %v", err)
	}
	if err := r.validateInputs(map[string]any{"bucketName": "b", "env": "staging"}, schema); !appErr.IsKind(err, appErr.KindConstraintViolation) {
		t.Fatalf("expected ConstraintViolation, got %v", err)
	}
	if err := r.validateInputs(map[string]any{"bucketName": "b", "env": "prod"}, schema); err != nil {
		t.Fatalf("expected valid input set to pass, got %v", err)
	}
}

func TestCheckProviderCompatibilityDetectsConflict(t *testing.T) {
	err := CheckProviderCompatibility([]models.ProviderRequirement{
		{Name: "aws", Version: "5.0"},
		{Name: "aws", Version: "4.0"},
	})
	if !appErr.IsKind(err, appErr.KindProviderConflict) {
		t.Fatalf("expected ProviderConflict, got %v", err)
	}
}
