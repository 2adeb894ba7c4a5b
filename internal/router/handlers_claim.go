package router

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/models"
	"github.com/infraweave-io/infraweave/internal/queue"
	"github.com/infraweave-io/infraweave/internal/registry"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

// runClaimRequest is the run_claim payload shape, matching
// spec.md §6's claim manifest plus the target identity.
type runClaimRequest struct {
	Project   string                `json:"project"`
	Region    string                `json:"region"`
	Namespace string                `json:"namespace"`
	Name      string                `json:"name"`
	JobKind   string                `json:"jobKind"`
	Claim     queue.ClaimPayload    `json:"claim"`
}

// RegisterClaimHandlers binds run_claim, get_deployment, list_deployments,
// read_logs, get_job_status, and get_change_record onto rt.
// run_claim enqueues through queue.Client rather than running the
// orchestrator inline, keeping the router's CPU-only dispatch path free
// of the suspension points spec.md §5 forbids on the router's own
// executor threads.
func RegisterClaimHandlers(rt *Router, reg *registry.Registry, client *queue.Client, provider facade.Provider) {
	rt.Register("run_claim", func(ctx context.Context, req *Request) (any, error) {
		var body runClaimRequest
		if err := req.Decode(&body); err != nil {
			return nil, err
		}
		if body.Project == "" || body.Region == "" || body.Name == "" {
			return nil, appErr.New(appErr.KindMalformed, "project, region, and name are required")
		}
		jobKind := body.JobKind
		if jobKind == "" {
			jobKind = string(models.JobKindApply)
		}
		payload := queue.RunClaimPayload{
			Identity: queue.IdentityPayload{
				Project:   body.Project,
				Region:    body.Region,
				Namespace: defaultString(body.Namespace, "default"),
				Name:      body.Name,
			},
			JobKind: jobKind,
			Claim:   body.Claim,
			GitProvenance: queue.GitProvenancePayload{
				Committer: req.Caller.Subject,
			},
		}
		if err := client.EnqueueRunClaim(payload); err != nil {
			return nil, err
		}
		identity := models.DeploymentIdentity{
			Project: payload.Identity.Project, Region: payload.Identity.Region,
			Namespace: payload.Identity.Namespace, Name: payload.Identity.Name,
		}
		return map[string]string{"deployment_id": registry.IdentityID(identity).String()}, nil
	})

	rt.Register("get_deployment", func(ctx context.Context, req *Request) (any, error) {
		identity := identityFromRequest(req)
		return reg.Get(ctx, identity)
	})

	rt.Register("list_deployments", func(ctx context.Context, req *Request) (any, error) {
		project := req.Field("project")
		region := req.Field("region")
		if project == "" || region == "" {
			return nil, appErr.New(appErr.KindMalformed, "project and region are required")
		}
		return reg.ListByProjectRegion(ctx, project, region)
	})

	rt.Register("get_job_status", func(ctx context.Context, req *Request) (any, error) {
		jobID, err := parseUUID(req.Field("job_id"))
		if err != nil {
			return nil, err
		}
		return reg.GetJob(ctx, jobID)
	})

	rt.Register("get_change_record", func(ctx context.Context, req *Request) (any, error) {
		id, err := parseUUID(req.Field("change_record_id"))
		if err != nil {
			return nil, err
		}
		return reg.GetChangeRecord(ctx, id)
	})

	rt.Register("read_logs", func(ctx context.Context, req *Request) (any, error) {
		jobID, err := parseUUID(req.Field("job_id"))
		if err != nil {
			return nil, err
		}
		job, err := reg.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.RunnerHandle == "" {
			return map[string]any{"lines": []string{}, "next_token": ""}, nil
		}
		limit := 200
		if raw := req.Field("limit"); raw != "" {
			if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 {
				limit = n
			}
		}
		lines, next, err := provider.Logs().Read(ctx, facade.ExecHandle(job.RunnerHandle), req.Field("next_token"), limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"lines": lines, "next_token": next}, nil
	})
}

func identityFromRequest(req *Request) models.DeploymentIdentity {
	return models.DeploymentIdentity{
		Project:   req.Field("project"),
		Region:    req.Field("region"),
		Namespace: defaultString(req.Field("namespace"), "default"),
		Name:      req.Field("name"),
	}
}

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.UUID{}, appErr.New(appErr.KindMalformed, "id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, appErr.Wrap(err, appErr.KindMalformed, "malformed id")
	}
	return id, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
