// Package orchestrator drives the per-job state machine of spec.md §4.4:
// Init → Compiling → Locking → Launching → Running → Finalizing →
// {Succeeded | Failed | Cancelled}, with per-phase retry budgets and a
// lock lease guarding concurrent state mutation. Grounded on the
// teacher's internal/services/deployment_service.go transactional
// finalize pattern and internal/provisioner.provisioner.go's phase
// sequencing, generalized to the plan/apply/destroy/drift job kinds and
// the cloud-capability façade instead of a single hardcoded AWS path.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/models"
	"github.com/infraweave-io/infraweave/internal/registry"
	"github.com/infraweave-io/infraweave/internal/resolver"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/infraweave-io/infraweave/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config bounds the orchestrator's timeouts, sourced from pkg/config.
type Config struct {
	LockTimeout        time.Duration
	JobWallClockBudget time.Duration
	Environment        string
}

// Orchestrator runs jobs to completion against a facade Provider and a
// gorm-backed store for Job/Event/Lock/ChangeRecord rows.
type Orchestrator struct {
	db       *gorm.DB
	provider facade.Provider
	registry *registry.Registry
	cfg      Config

	// pollEvery overrides the Exec.Status/Logs.Read poll cadence; zero
	// means the default of 2s. Only tests set this.
	pollEvery time.Duration
}

// New constructs an Orchestrator.
func New(db *gorm.DB, provider facade.Provider, reg *registry.Registry, cfg Config) *Orchestrator {
	return &Orchestrator{db: db, provider: provider, registry: reg, cfg: cfg}
}

var epochSeq int64

func nextEpochSeq() int64 { return atomic.AddInt64(&epochSeq, 1) }

// Run executes plan through the full state machine for one job,
// returning once the job reaches a terminal state. It is the entry
// point invoked by the orchestrator:run_claim task handler.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job, deploymentID models.DeploymentIdentity, plan *resolver.ResolvedPlan) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.JobWallClockBudget)
	defer cancel()

	job.Status = models.JobStatusCompiling
	job.StartedAtEpoch = time.Now().UnixMilli()
	if err := o.saveJob(ctx, job); err != nil {
		return err
	}
	o.emitEvent(ctx, job, "job.started", nil, "")

	stateKey := StateKey(o.cfg.Environment, deploymentID.Region, job.DeploymentID.String())

	job.Status = models.JobStatusLocking
	_ = o.saveJob(ctx, job)
	if err := AcquireLock(ctx, o.db, stateKey, job.ID.String(), o.cfg.LockTimeout); err != nil {
		return o.fail(ctx, job, err)
	}

	job.Status = models.JobStatusLaunching
	_ = o.saveJob(ctx, job)
	handle, err := o.launch(ctx, job, plan)
	if err != nil {
		_ = o.releaseAndUnlock(ctx, stateKey)
		return o.fail(ctx, job, err)
	}
	job.RunnerHandle = string(handle)
	_ = o.saveJob(ctx, job)

	job.Status = models.JobStatusRunning
	_ = o.saveJob(ctx, job)
	status, err := o.awaitCompletion(ctx, job, handle)
	if err != nil {
		// ctx may already be past the wall-clock budget; clean up without it.
		cleanupCtx := context.WithoutCancel(ctx)
		if !appErr.IsKind(err, appErr.KindRunnerLost) {
			_ = o.releaseAndUnlock(cleanupCtx, stateKey)
		}
		return o.fail(cleanupCtx, job, err)
	}

	job.Status = models.JobStatusFinalizing
	_ = o.saveJob(ctx, job)
	return o.finalize(ctx, job, deploymentID, plan, stateKey, status)
}

// launch builds the runner environment and calls Exec.Start, retried up
// to the launch phase's budget of 3 attempts.
func (o *Orchestrator) launch(ctx context.Context, job *models.Job, plan *resolver.ResolvedPlan) (facade.ExecHandle, error) {
	spec := facade.ExecSpec{
		Command: []string{"infraweave-runner"},
		Env:     runnerEnv(job, plan, o.cfg.Environment),
	}

	var handle facade.ExecHandle
	maxAttempts := models.MaxAttempts(models.JobStatusLaunching)
	op := func() error {
		h, err := o.provider.Exec().Start(ctx, spec)
		if err != nil {
			if appErr.KindOf(err) == appErr.KindTransient {
				return err
			}
			return backoff.Permanent(err)
		}
		handle = h
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxAttempts-1))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", appErr.Wrap(err, appErr.KindRuntimeError, "launching runner")
	}
	return handle, nil
}

// runnerEnv renders the TF_VAR_*/INFRAWEAVE_* environment the runner
// container reads, per the Locking → Launching transition.
func runnerEnv(job *models.Job, plan *resolver.ResolvedPlan, environment string) map[string]string {
	env := map[string]string{
		"INFRAWEAVE_JOB_ID":     job.ID.String(),
		"INFRAWEAVE_JOB_KIND":   string(job.Kind),
		"INFRAWEAVE_ENVIRONMENT": environment,
		"INFRAWEAVE_ARTIFACT_DIGEST": plan.RootArtifactDigest,
	}
	for k, v := range plan.InputMap {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		env["TF_VAR_"+k] = string(raw)
	}
	return env
}

// awaitCompletion polls Exec.Status until a terminal status, reading
// Logs.Read each poll only to advance job.LogStreamCursor.
func (o *Orchestrator) awaitCompletion(ctx context.Context, job *models.Job, handle facade.ExecHandle) (facade.ExecStatus, error) {
	interval := o.pollEvery
	if interval == 0 {
		interval = 2 * time.Second
	}
	cursor := ""
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", appErr.Wrap(ctx.Err(), appErr.KindTimeout, "job exceeded wall-clock budget")
		case <-ticker.C:
			lines, next, err := o.provider.Logs().Read(ctx, handle, cursor, 200)
			if err == nil && len(lines) > 0 {
				cursor = next
				job.LogStreamCursor = cursor
			}

			status, err := o.provider.Exec().Status(ctx, handle)
			if err != nil {
				return "", appErr.Wrap(err, appErr.KindRunnerLost, "checking runner status")
			}
			switch status {
			case facade.ExecStatusSucceeded, facade.ExecStatusFailed:
				return status, nil
			case facade.ExecStatusLost:
				return "", appErr.New(appErr.KindRunnerLost, "runner lost")
			}
		}
	}
}

// finalize performs the transactional write of the Finalizing →
// Succeeded/Failed transition: deployment upsert, lock release,
// terminal event insert, all inside one transaction.
func (o *Orchestrator) finalize(ctx context.Context, job *models.Job, identity models.DeploymentIdentity, plan *resolver.ResolvedPlan, stateKey string, status facade.ExecStatus) error {
	outputs, _ := o.readRunnerOutputs(ctx, job)

	var finalStatus models.JobStatus
	var eventKind string
	if status == facade.ExecStatusSucceeded {
		finalStatus = models.JobStatusSucceeded
		eventKind = string(job.Kind) + ".finished"
	} else {
		finalStatus = models.JobStatusFailed
		eventKind = string(job.Kind) + ".failed"
	}

	err := withRetriedTransaction(ctx, o.db, models.MaxAttempts(models.JobStatusFinalizing), func(tx *gorm.DB) error {
		outputsJSON, _ := json.Marshal(outputs)
		_, err := registry.Upsert(tx, identity, func(d *models.Deployment) {
			d.ModuleType = plan.Entry.Type
			d.Track = plan.Entry.Track
			d.ModuleName = plan.Entry.Name
			d.Version = plan.Entry.Version
			d.Outputs = outputsJSON
			d.Status = string(finalStatus)
			d.LastJobID = job.ID.String()
			if job.Kind == models.JobKindDestroy && status == facade.ExecStatusSucceeded {
				d.Deleted = true
			}
		})
		if err != nil {
			return err
		}

		if err := ReleaseLock(tx, stateKey); err != nil {
			return err
		}

		job.Status = finalStatus
		job.EndedAtEpoch = time.Now().UnixMilli()
		if err := tx.Save(job).Error; err != nil {
			return appErr.Wrap(err, appErr.KindInternal, "saving finalized job")
		}

		payload, _ := json.Marshal(map[string]any{"status": string(status)})
		event := models.Event{
			DeploymentID: job.DeploymentID,
			JobID:        &job.ID,
			EpochMillis:  time.Now().UnixMilli(),
			EpochSeq:     nextEpochSeq(),
			Kind:         eventKind,
			Payload:      payload,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return err
	}

	logger.L().Info("job finalized", zap.String("job_id", job.ID.String()), zap.String("status", string(finalStatus)))
	return nil
}

// readRunnerOutputs reads the runner's captured `terraform output -json`
// blob back from object storage, written by the runner at
// Running → Finalizing under /jobs/<job_id>/outputs.json.
func (o *Orchestrator) readRunnerOutputs(ctx context.Context, job *models.Job) (map[string]any, error) {
	raw, err := o.provider.Object().Get(ctx, fmt.Sprintf("/jobs/%s/outputs.json", job.ID))
	if err != nil {
		return map[string]any{}, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}, err
	}
	return out, nil
}

func (o *Orchestrator) saveJob(ctx context.Context, job *models.Job) error {
	if err := o.db.WithContext(ctx).Save(job).Error; err != nil {
		return appErr.Wrap(err, appErr.KindInternal, "saving job state")
	}
	return nil
}

func (o *Orchestrator) releaseAndUnlock(ctx context.Context, stateKey string) error {
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return ReleaseLock(tx, stateKey)
	})
}

// fail records a terminal Failed job with the error's Kind captured for
// the event log, per the failure semantics table of spec.md §4.4.
func (o *Orchestrator) fail(ctx context.Context, job *models.Job, cause error) error {
	job.Status = models.JobStatusFailed
	job.FailureKind = string(appErr.KindOf(cause))
	job.FailureMessage = appErr.Sanitize(cause)
	job.EndedAtEpoch = time.Now().UnixMilli()
	_ = o.saveJob(ctx, job)
	o.emitEvent(ctx, job, string(job.Kind)+".failed", map[string]any{"error": cause.Error()}, job.FailureKind)
	return cause
}

func (o *Orchestrator) emitEvent(ctx context.Context, job *models.Job, kind string, payload map[string]any, errorKind string) {
	raw, _ := json.Marshal(payload)
	event := models.Event{
		DeploymentID: job.DeploymentID,
		JobID:        &job.ID,
		EpochMillis:  time.Now().UnixMilli(),
		EpochSeq:     nextEpochSeq(),
		Kind:         kind,
		Payload:      raw,
		ErrorKind:    errorKind,
	}
	if err := o.db.WithContext(ctx).Create(&event).Error; err != nil {
		logger.L().Warn("failed to write event", zap.String("kind", kind), zap.Error(err))
	}
}

// withRetriedTransaction retries a gorm transaction on Conflict per the
// error propagation policy, up to maxAttempts, with a fresh read each
// retry (the transaction body itself re-reads current rows).
func withRetriedTransaction(ctx context.Context, db *gorm.DB, maxAttempts int, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !appErr.IsRetryable(err) {
			return err
		}
	}
	return err
}

// NewJob constructs a Job row in its initial state for a fresh
// orchestrator run.
func NewJob(deploymentID uuid.UUID, kind models.JobKind) *models.Job {
	return &models.Job{
		ID:           uuid.New(),
		DeploymentID: deploymentID,
		Kind:         kind,
		Status:       models.JobStatusInit,
	}
}
