// Package registry implements the deployment registry of spec.md §4.5:
// the source-of-truth projection of every deployment's identity,
// current module version, inputs/outputs, and status, mutated only
// inside the orchestrator's finalize transaction. Adapted from the
// teacher's internal/repository.DeploymentRepository, generalized from
// generic CRUD to the registry's read-side operations
// (list_by_project_region, list_by_module, read_outputs, graph) plus
// the single upsert entry point finalize calls.
package registry

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"gorm.io/gorm"
)

// Registry implements upsert/get/list_by_project_region/list_by_module/
// mark_deleted/read_outputs/graph over the Deployment projection.
type Registry struct {
	db *gorm.DB
}

// New constructs a Registry over db.
func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// UpsertResult carries what Finalize needs to also touch inside the
// same transaction the orchestrator opens (Lock deletion, Event insert),
// so Upsert can run under a caller-supplied *gorm.DB transaction handle
// instead of opening its own.
type UpsertResult struct {
	Deployment models.Deployment
}

// IdentityID derives a stable surrogate id from a deployment identity so
// callers (the request router, orchestrator) can reference a deployment's
// row before it exists — its Job and Event rows are written before the
// finalize transaction that creates or updates the Deployment row itself.
func IdentityID(identity models.DeploymentIdentity) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(identity.PK()+"#"+identity.SK()))
}

// Upsert creates or updates the deployment identified by identity,
// applying mutate to the row loaded (or a zero-value new row). tx MUST
// be the orchestrator's finalize transaction handle — the invariant
// that every mutation is gated by finalize is enforced by never
// exposing a variant that takes *Registry's own db.
func Upsert(tx *gorm.DB, identity models.DeploymentIdentity, mutate func(d *models.Deployment)) (*models.Deployment, error) {
	var d models.Deployment
	err := tx.Where("pk = ? AND sk = ?", identity.PK(), identity.SK()).First(&d).Error
	switch {
	case err == nil:
		mutate(&d)
		if err := tx.Save(&d).Error; err != nil {
			return nil, appErr.Wrap(err, appErr.KindConflict, "updating deployment")
		}
	case err == gorm.ErrRecordNotFound:
		d = models.Deployment{
			ID:        IdentityID(identity),
			PK:        identity.PK(),
			SK:        identity.SK(),
			Project:   identity.Project,
			Region:    identity.Region,
			Namespace: identity.Namespace,
			Name:      identity.Name,
		}
		mutate(&d)
		if err := tx.Create(&d).Error; err != nil {
			return nil, appErr.Wrap(err, appErr.KindConflict, "creating deployment")
		}
	default:
		return nil, appErr.Wrap(err, appErr.KindInternal, "reading deployment for upsert")
	}
	return &d, nil
}

// Get resolves a deployment by its (project, region, namespace, name) identity.
func (r *Registry) Get(ctx context.Context, identity models.DeploymentIdentity) (*models.Deployment, error) {
	var d models.Deployment
	err := r.db.WithContext(ctx).
		Where("pk = ? AND sk = ? AND deleted = false", identity.PK(), identity.SK()).
		First(&d).Error
	if err == gorm.ErrRecordNotFound {
		return nil, appErr.New(appErr.KindNotFound, "deployment not found")
	}
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "get deployment failed")
	}
	return &d, nil
}

// GetByID resolves a deployment by its surrogate primary key, used by
// the orchestrator when it already holds a Job.DeploymentID.
func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (*models.Deployment, error) {
	var d models.Deployment
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.New(appErr.KindNotFound, "deployment not found")
		}
		return nil, appErr.Wrap(err, appErr.KindInternal, "get deployment by id failed")
	}
	return &d, nil
}

// ListByProjectRegion lists all live deployments in a project+region.
func (r *Registry) ListByProjectRegion(ctx context.Context, project, region string) ([]models.Deployment, error) {
	var out []models.Deployment
	if err := r.db.WithContext(ctx).
		Where("project = ? AND region = ? AND deleted = false", project, region).
		Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "list deployments by project/region failed")
	}
	return out, nil
}

// ListByModule answers the MODULE_INDEX secondary index's "who uses
// this version" query: every deployment on (track, moduleName[, version]).
func (r *Registry) ListByModule(ctx context.Context, track models.Track, moduleName, version string) ([]models.Deployment, error) {
	var out []models.Deployment
	q := r.db.WithContext(ctx).Where("track = ? AND module_name = ? AND deleted = false", track, moduleName)
	if version != "" {
		q = q.Where("version = ?", version)
	}
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "list deployments by module failed")
	}
	return out, nil
}

// ListDriftDue answers the drift controller's periodic sweep query:
// live deployments whose drift_next_epoch has elapsed.
func (r *Registry) ListDriftDue(ctx context.Context, nowEpoch int64, limit int) ([]models.Deployment, error) {
	var out []models.Deployment
	q := r.db.WithContext(ctx).
		Where("deleted = false AND drift_next_epoch > 0 AND drift_next_epoch <= ?", nowEpoch).
		Order("drift_next_epoch ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "list drift-due deployments failed")
	}
	return out, nil
}

// MarkDeleted implements the destroy-tombstone rule of spec.md §4.4:
// the row is flagged deleted=true but retained until the project-level
// purger runs. Called inside the finalize transaction on a successful
// destroy job.
func MarkDeleted(tx *gorm.DB, deploymentID uuid.UUID) error {
	res := tx.Model(&models.Deployment{}).Where("id = ?", deploymentID).Update("deleted", true)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.KindInternal, "marking deployment deleted")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.KindNotFound, "deployment not found")
	}
	return nil
}

// ReadOutputs returns a deployment's last-known outputs blob decoded
// into a generic map, the read side of §4.3 step 4's cross-deployment
// interpolation.
func (r *Registry) ReadOutputs(ctx context.Context, identity models.DeploymentIdentity) (map[string]any, error) {
	d, err := r.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	if len(d.Outputs) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(d.Outputs, &out); err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "decoding deployment outputs")
	}
	return out, nil
}

// FindOutputsByKindAndName resolves a `{{ Kind::name::output }}`
// reference's outputs by module kind and deployment name, for callers
// that don't carry the referencing claim's full identity (the resolver's
// interpolation lookup is keyed on kind+name alone, per its interpolate
// grammar). When more than one live deployment shares the name, the
// most recently created one wins.
func (r *Registry) FindOutputsByKindAndName(ctx context.Context, kind, name string) (map[string]any, bool, error) {
	moduleType := models.ModuleTypeModule
	if kind == "Stack" {
		moduleType = models.ModuleTypeStack
	}
	var d models.Deployment
	err := r.db.WithContext(ctx).
		Where("module_type = ? AND name = ? AND deleted = false", moduleType, name).
		Order("created_at DESC").
		First(&d).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, appErr.Wrap(err, appErr.KindInternal, "lookup deployment by kind/name failed")
	}
	if len(d.Outputs) == 0 {
		return map[string]any{}, true, nil
	}
	var out map[string]any
	if err := json.Unmarshal(d.Outputs, &out); err != nil {
		return nil, false, appErr.Wrap(err, appErr.KindInternal, "decoding deployment outputs")
	}
	return out, true, nil
}

// GraphEdge is one dependency edge in a project+region's deployment
// graph, as reported by Graph.
type GraphEdge struct {
	From models.DeploymentIdentity
	To   models.DependencyRef
}

// Graph returns every DependsOn edge recorded across a project+region's
// live deployments, letting a caller reconstruct the cross-deployment
// dependency topology without re-running interpolation.
func (r *Registry) Graph(ctx context.Context, project, region string) ([]GraphEdge, error) {
	deployments, err := r.ListByProjectRegion(ctx, project, region)
	if err != nil {
		return nil, err
	}
	var edges []GraphEdge
	for _, d := range deployments {
		from := models.DeploymentIdentity{Project: d.Project, Region: d.Region, Namespace: d.Namespace, Name: d.Name}
		for _, dep := range d.DependsOn {
			edges = append(edges, GraphEdge{From: from, To: dep})
		}
	}
	return edges, nil
}

// GetJob resolves one orchestrator job by ID, backing get_job_status and
// read_logs (which needs the job's RunnerHandle to poll facade.Logs).
func (r *Registry) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.New(appErr.KindNotFound, "job not found")
		}
		return nil, appErr.Wrap(err, appErr.KindInternal, "get job failed")
	}
	return &job, nil
}

// GetChangeRecord resolves one job's diff record by ID.
func (r *Registry) GetChangeRecord(ctx context.Context, id uuid.UUID) (*models.ChangeRecord, error) {
	var record models.ChangeRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.New(appErr.KindNotFound, "change record not found")
		}
		return nil, appErr.Wrap(err, appErr.KindInternal, "get change record failed")
	}
	return &record, nil
}

// ListEvents returns a deployment's event history ordered by
// (epoch_millis, epoch_seq), the total order spec.md §5 guarantees.
func (r *Registry) ListEvents(ctx context.Context, deploymentID uuid.UUID, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.Event
	if err := r.db.WithContext(ctx).
		Where("deployment_id = ?", deploymentID).
		Order("epoch_millis DESC, epoch_seq DESC").
		Limit(limit).Find(&events).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.KindInternal, "list events failed")
	}
	return events, nil
}
