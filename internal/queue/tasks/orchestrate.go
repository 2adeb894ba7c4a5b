// Package tasks holds the asynq task handlers the worker process
// registers, replacing the teacher's single deployment:provision/
// deployment:destroy pair with one job-kind-parameterized run_claim
// handler plus a periodic drift sweep, per internal/queue's client doc.
package tasks

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/infraweave-io/infraweave/internal/models"
	"github.com/infraweave-io/infraweave/internal/orchestrator"
	"github.com/infraweave-io/infraweave/internal/queue"
	"github.com/infraweave-io/infraweave/internal/registry"
	"github.com/infraweave-io/infraweave/internal/resolver"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/infraweave-io/infraweave/pkg/logger"
	"go.uber.org/zap"
)

// OrchestrateHandler drives one resolved claim through the resolver and
// orchestrator from an asynq task.
type OrchestrateHandler struct {
	resolver     *resolver.Resolver
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	environment  string
}

// NewOrchestrateHandler wires an OrchestrateHandler.
func NewOrchestrateHandler(r *resolver.Resolver, o *orchestrator.Orchestrator, reg *registry.Registry, environment string) *OrchestrateHandler {
	return &OrchestrateHandler{resolver: r, orchestrator: o, registry: reg, environment: environment}
}

// HandleRunClaim implements the queue.TaskRunClaim task: resolve the
// claim into a plan, then run it through the orchestrator's state
// machine to completion.
func (h *OrchestrateHandler) HandleRunClaim(ctx context.Context, t *asynq.Task) error {
	var payload queue.RunClaimPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logger.L().Error("invalid run_claim payload", zap.Error(err))
		return err
	}

	identity := models.DeploymentIdentity{
		Project:   payload.Identity.Project,
		Region:    payload.Identity.Region,
		Namespace: payload.Identity.Namespace,
		Name:      payload.Identity.Name,
	}
	deploymentID := registry.IdentityID(identity)

	claim := claimFromPayload(payload.Claim)
	execCtx := resolver.Context{
		Project:     identity.Project,
		Region:      identity.Region,
		Environment: h.environment,
		GitProvenance: models.GitProvenance{
			Committer: payload.GitProvenance.Committer,
			SHA:       payload.GitProvenance.SHA,
			Repo:      payload.GitProvenance.Repo,
		},
	}

	plan, err := h.resolver.Resolve(ctx, claim, deploymentID.String(), execCtx)
	if err != nil {
		logger.L().Error("claim resolution failed", zap.String("deployment", deploymentID.String()), zap.Error(err))
		return err
	}

	kind := models.JobKind(payload.JobKind)
	job := orchestrator.NewJob(deploymentID, kind)

	if err := h.orchestrator.Run(ctx, job, identity, plan); err != nil {
		if appErr.KindOf(err) == appErr.KindTransient || appErr.KindOf(err) == appErr.KindBusy {
			return err // asynq retries transient/busy failures
		}
		return nil // permanent failure already recorded on the job/event log
	}
	return nil
}

func claimFromPayload(p queue.ClaimPayload) resolver.Claim {
	var c resolver.Claim
	c.APIVersion = p.APIVersion
	c.Kind = p.Kind
	c.Metadata.Name = p.Metadata.Name
	c.Metadata.Namespace = p.Metadata.Namespace
	c.Spec.ModuleName = p.Spec.ModuleName
	c.Spec.StackName = p.Spec.StackName
	c.Spec.Track = models.Track(p.Spec.Track)
	c.Spec.Version = p.Spec.Version
	c.Spec.Variables = p.Spec.Variables
	c.Spec.DriftDetection = models.DriftDetectionConfig{
		Enabled:       p.Spec.DriftDetection.Enabled,
		Interval:      p.Spec.DriftDetection.Interval,
		AutoRemediate: p.Spec.DriftDetection.AutoRemediate,
	}
	return c
}
