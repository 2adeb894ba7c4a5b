// Package drift implements the periodic reconciliation sweep of
// spec.md §4.7: scan deployments whose drift check is due and enqueue a
// plan-kind job for each, capped by a global concurrency limit. The
// channel-semaphore/WaitGroup worker-pool shape is grounded on
// _examples/Mindburn-Labs-helm/core/pkg/compliance/regwatch/swarm.go's
// Swarm.pollAll, generalized from a fixed adapter set to the registry's
// drift-due deployment query.
package drift

import (
	"context"
	"sync"
	"time"

	"github.com/infraweave-io/infraweave/internal/models"
	"github.com/infraweave-io/infraweave/internal/queue"
	"github.com/infraweave-io/infraweave/internal/registry"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/infraweave-io/infraweave/pkg/logger"
	"go.uber.org/zap"
)

// Controller runs the periodic drift sweep.
type Controller struct {
	registry         *registry.Registry
	client           *queue.Client
	concurrencyLimit int
	sweepBatchSize   int
}

// New constructs a Controller. concurrencyLimit bounds how many
// deployments are enqueued concurrently per sweep, per CONCURRENCY_LIMIT.
func New(reg *registry.Registry, client *queue.Client, concurrencyLimit int) *Controller {
	if concurrencyLimit <= 0 {
		concurrencyLimit = 5
	}
	return &Controller{registry: reg, client: client, concurrencyLimit: concurrencyLimit, sweepBatchSize: 500}
}

// SweepResult summarizes one sweep pass, returned for logging/metrics.
type SweepResult struct {
	Scanned  int
	Enqueued int
	Failed   int
}

// Sweep scans deployments whose drift_next_epoch has elapsed and enqueues
// a plan-kind run_claim task for each, honoring the concurrency cap.
func (c *Controller) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	due, err := c.registry.ListDriftDue(ctx, now.UnixMilli(), c.sweepBatchSize)
	if err != nil {
		return SweepResult{}, err
	}

	sem := make(chan struct{}, c.concurrencyLimit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	result := SweepResult{Scanned: len(due)}

	for _, d := range due {
		wg.Add(1)
		go func(dep models.Deployment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := c.enqueueDriftJob(dep); err != nil {
				mu.Lock()
				result.Failed++
				mu.Unlock()
				logger.L().Warn("failed to enqueue drift job", zap.String("deployment_id", dep.ID.String()), zap.Error(err))
				return
			}
			mu.Lock()
			result.Enqueued++
			mu.Unlock()
		}(d)
	}
	wg.Wait()
	return result, nil
}

func (c *Controller) enqueueDriftJob(d models.Deployment) error {
	driftCfg := d.DriftDetection.Data
	jobKind := string(models.JobKindPlan)

	payload := queue.RunClaimPayload{
		Identity: queue.IdentityPayload{
			Project: d.Project, Region: d.Region, Namespace: d.Namespace, Name: d.Name,
		},
		JobKind: jobKind,
	}
	payload.Claim.APIVersion = "infraweave.io/v1"
	payload.Claim.Kind = kindFromModuleType(d.ModuleType)
	payload.Claim.Metadata.Name = d.Name
	payload.Claim.Metadata.Namespace = d.Namespace
	if d.ModuleType == models.ModuleTypeStack {
		payload.Claim.Spec.StackName = d.ModuleName
	} else {
		payload.Claim.Spec.ModuleName = d.ModuleName
	}
	payload.Claim.Spec.Track = string(d.Track)
	payload.Claim.Spec.Version = d.Version
	payload.Claim.Spec.DriftDetection.Enabled = driftCfg.Enabled
	payload.Claim.Spec.DriftDetection.Interval = driftCfg.Interval
	payload.Claim.Spec.DriftDetection.AutoRemediate = driftCfg.AutoRemediate

	return c.client.EnqueueRunClaim(payload)
}

func kindFromModuleType(t models.ModuleType) string {
	if t == models.ModuleTypeStack {
		return "Stack"
	}
	return "Module"
}

// NextEpoch computes the next drift_next_epoch for a deployment given its
// driftDetection.interval string, per REDESIGN FLAGS' time.ParseDuration
// resolution of the open question on interval parsing.
func NextEpoch(now time.Time, interval string) (int64, error) {
	if interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, appErr.Wrap(err, appErr.KindMalformed, "invalid drift detection interval")
	}
	return now.Add(d).UnixMilli(), nil
}
