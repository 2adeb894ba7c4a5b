package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DependencyRef is one `{{ Kind::name::output }}` cross-deployment
// reference resolved at claim-resolution time, accumulated into the
// deployment's dependency graph.
type DependencyRef struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Output string `json:"output"`
}

// DriftDetectionConfig mirrors the claim manifest's driftDetection block.
type DriftDetectionConfig struct {
	Enabled        bool                `json:"enabled"`
	Interval       string              `json:"interval,omitempty"`
	AutoRemediate  bool                `json:"autoRemediate,omitempty"`
	Webhooks       []DriftWebhook      `json:"webhooks,omitempty"`
}

type DriftWebhook struct {
	URL     string `json:"url"`
	Message string `json:"message,omitempty"`
}

// GitProvenance records the committer identity that produced a claim via
// the GitOps ingester, carried through to INFRAWEAVE_* runner variables.
type GitProvenance struct {
	Committer string `json:"committer,omitempty"`
	SHA        string `json:"sha,omitempty"`
	Repo       string `json:"repo,omitempty"`
}

// Deployment is the registry's source-of-truth row for one named
// infrastructure instance, identified by (project, region, namespace, name).
type Deployment struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`

	PK string `gorm:"column:pk;not null;uniqueIndex:idx_deployment_pk_sk" json:"pk"` // DEPLOYMENT#<project>#<region>
	SK string `gorm:"column:sk;not null;uniqueIndex:idx_deployment_pk_sk" json:"sk"` // <namespace>#<name>

	Project   string `gorm:"not null;index" json:"project"`
	Region    string `gorm:"not null;index" json:"region"`
	Namespace string `gorm:"not null" json:"namespace"`
	Name      string `gorm:"not null" json:"name"`

	ModuleType ModuleType `gorm:"type:varchar(16);not null" json:"module_type"`
	Track      Track      `gorm:"type:varchar(16);not null" json:"track"`
	ModuleName string     `gorm:"not null;index:idx_deployment_module_index" json:"module_name"`
	Version    string     `gorm:"not null;index:idx_deployment_module_index" json:"version"`

	Inputs  datatypes.JSON `gorm:"type:jsonb" json:"inputs"`
	Outputs datatypes.JSON `gorm:"type:jsonb" json:"outputs"`

	Status       string `gorm:"type:varchar(32);not null;index" json:"status" validate:"oneof=pending queued running succeeded failed cancelled"`
	LastJobID    string `gorm:"index" json:"last_job_id"`

	DriftDetection datatypes.JSONType[DriftDetectionConfig] `gorm:"type:jsonb" json:"drift_detection"`
	DriftNextEpoch int64                                    `gorm:"index" json:"drift_next_epoch"`

	DependsOn datatypes.JSONSlice[DependencyRef] `gorm:"type:jsonb" json:"depends_on"`
	GitProvenance datatypes.JSONType[GitProvenance] `gorm:"type:jsonb" json:"git_provenance"`

	Deleted bool `gorm:"not null;default:false;index:idx_deployment_deleted_index" json:"deleted"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// DeploymentIdentity is the (project, region, namespace, name) tuple uniquely
// identifying a deployment.
type DeploymentIdentity struct {
	Project   string
	Region    string
	Namespace string
	Name      string
}

func (d DeploymentIdentity) PK() string { return "DEPLOYMENT#" + d.Project + "#" + d.Region }
func (d DeploymentIdentity) SK() string { return d.Namespace + "#" + d.Name }
