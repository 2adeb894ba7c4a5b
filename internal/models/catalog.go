package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TfVariable declares one Terraform input variable of a module or stack,
// surfaced by the manifest's input schema.
type TfVariable struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	Nullable    bool   `json:"nullable,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty"`
	// Validation is an optional predicate expression (CEL, or one of the
	// regex/length/enum shorthand forms) checked in internal/resolver.
	Validation string `json:"validation,omitempty"`
}

// TfOutput declares one Terraform output of a module or stack.
type TfOutput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ProviderRequirement names a required provider and an optional version
// constraint, resolved against the catalog during publish and claim
// resolution.
type ProviderRequirement struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ModuleExample is a named, documented example variable set from the
// manifest's spec.examples.
type ModuleExample struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// ModuleClaim is one child module reference inside a Stack's manifest,
// naming the module version, its alias within the generated root module,
// and the variable mapping wiring the stack's inputs/cross-module outputs
// to the child module's inputs.
type ModuleClaim struct {
	Module          string            `json:"module"`
	Version         string            `json:"version"`
	Alias           string            `json:"alias"`
	VariableMapping map[string]string `json:"variableMapping,omitempty"`
}

// ModuleManifest is the parsed content of module.yaml/stack.yaml/provider.yaml.
type ModuleManifest struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Metadata   struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Spec ModuleManifestSpec `json:"spec"`
}

// ModuleManifestSpec is the manifest's spec block, shared by module and
// stack manifests; Claims is populated only for stacks.
type ModuleManifestSpec struct {
	ModuleName  string                `json:"moduleName"`
	Version     string                `json:"version,omitempty"`
	Reference   string                `json:"reference"`
	Description string                `json:"description"`
	Providers   []ProviderRequirement `json:"providers,omitempty"`
	Examples    []ModuleExample       `json:"examples,omitempty"`
	Claims      []ModuleClaim         `json:"claims,omitempty"`
}

// ModuleDiffAddition, ModuleDiffChange, and ModuleDiffRemoval are the
// field-level entries of a ModuleVersionDiff, mirroring the shape carried
// in the original Rust source's module definitions, re-expressed as Go.
type ModuleDiffAddition struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type ModuleDiffRemoval struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type ModuleDiffChange struct {
	Path     string `json:"path"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// ModuleVersionDiff is the added/changed/removed field diff between a
// newly published version and the previous version on the same track.
type ModuleVersionDiff struct {
	Added           []ModuleDiffAddition `json:"added"`
	Changed         []ModuleDiffChange   `json:"changed"`
	Removed         []ModuleDiffRemoval  `json:"removed"`
	PreviousVersion string               `json:"previous_version"`
}

// CatalogEntry is the persisted row for one published version of a
// provider, module, or stack. PK/SK mirror spec's composite KV key scheme
// (PK = "<TYPE>#<track>#<name>", SK = "<version>") as literal, indexed
// columns so a future façade-backed KV implementation can stand in
// without changing any caller.
type CatalogEntry struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`

	PK string `gorm:"column:pk;not null;uniqueIndex:idx_catalog_pk_sk" json:"pk"`
	SK string `gorm:"column:sk;not null;uniqueIndex:idx_catalog_pk_sk" json:"sk"`

	Type    ModuleType `gorm:"type:varchar(16);not null;index:idx_catalog_type_name" json:"type"`
	Track   Track      `gorm:"type:varchar(16);not null;index" json:"track"`
	Name    string      `gorm:"not null;index:idx_catalog_type_name" json:"name"`
	Version string      `gorm:"not null" json:"version"`

	ModuleName  string `gorm:"not null" json:"module_name"`
	Description string `gorm:"type:text" json:"description"`
	Reference   string `json:"reference"`

	Manifest   datatypes.JSONType[ModuleManifest]        `gorm:"type:jsonb" json:"manifest"`
	Variables  datatypes.JSONSlice[TfVariable]             `gorm:"type:jsonb" json:"tf_variables"`
	Outputs    datatypes.JSONSlice[TfOutput]                `gorm:"type:jsonb" json:"tf_outputs"`
	Providers  datatypes.JSONSlice[ProviderRequirement]     `gorm:"type:jsonb" json:"providers"`
	Claims     datatypes.JSONSlice[ModuleClaim]             `gorm:"type:jsonb" json:"claims"`
	VersionDiff *datatypes.JSONType[ModuleVersionDiff]     `gorm:"type:jsonb" json:"version_diff,omitempty"`

	ArtifactDigest string `gorm:"not null" json:"artifact_digest"`
	ArtifactKey    string `gorm:"not null" json:"artifact_key"`

	IsLatest   bool `gorm:"not null;default:false;index:idx_catalog_latest" json:"is_latest"`
	Deprecated bool `gorm:"not null;default:false" json:"deprecated"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// LatestPointer is the "LATEST#<TYPE>#<track>#<name>" pointer row updated
// in the same transaction as a new highest-semver publish.
type LatestPointer struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PK      string    `gorm:"column:pk;not null;uniqueIndex" json:"pk"`
	EntryID uuid.UUID `gorm:"type:uuid;not null" json:"entry_id"`
	Version string    `gorm:"not null" json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
