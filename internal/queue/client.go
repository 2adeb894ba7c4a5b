// Package queue wires the orchestrator's per-job execution and the
// drift controller's periodic sweep onto asynq, mirroring the teacher's
// single-task-per-job-kind pattern in internal/queue/tasks/provision.go
// rather than splitting the state machine's own phases into separate
// queue hops — orchestrator.Orchestrator.Run already owns the
// Compiling→Locking→Launching→Running→Finalizing sequence in one call,
// so one task per job kind is enough to give it a durable, retryable
// entry point.
package queue

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

const (
	// TaskRunClaim runs one resolved claim (plan/apply/destroy) through
	// the orchestrator's state machine.
	TaskRunClaim = "orchestrator:run_claim"
	// TaskDrift sweeps for deployments whose drift check is due.
	TaskDrift = "orchestrator:drift_sweep"
)

// Client enqueues orchestrator work onto asynq.
type Client struct {
	inner *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueueRunClaim schedules one orchestrator run for a resolved claim.
func (c *Client) EnqueueRunClaim(payload RunClaimPayload, opts ...asynq.Option) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return appErr.Wrap(err, appErr.KindInternal, "encoding run_claim payload")
	}
	_, err = c.inner.Enqueue(asynq.NewTask(TaskRunClaim, raw), opts...)
	if err != nil {
		return appErr.Wrap(err, appErr.KindTransient, "enqueueing run_claim task")
	}
	return nil
}

// EnqueueDriftSweep schedules a drift-detection sweep pass.
func (c *Client) EnqueueDriftSweep(opts ...asynq.Option) error {
	_, err := c.inner.Enqueue(asynq.NewTask(TaskDrift, nil), opts...)
	if err != nil {
		return appErr.Wrap(err, appErr.KindTransient, "enqueueing drift sweep task")
	}
	return nil
}

// RunClaimPayload is the durable task payload for TaskRunClaim.
type RunClaimPayload struct {
	Identity      IdentityPayload      `json:"identity"`
	JobKind       string               `json:"job_kind"`
	Claim         ClaimPayload         `json:"claim"`
	GitProvenance GitProvenancePayload `json:"git_provenance,omitempty"`
}

// GitProvenancePayload mirrors models.GitProvenance for wire transport,
// carrying the GitOps ingester's committer identity through to the
// runner's INFRAWEAVE_GIT_* variables.
type GitProvenancePayload struct {
	Committer string `json:"committer,omitempty"`
	SHA       string `json:"sha,omitempty"`
	Repo      string `json:"repo,omitempty"`
}

// IdentityPayload mirrors models.DeploymentIdentity for wire transport.
type IdentityPayload struct {
	Project   string `json:"project"`
	Region    string `json:"region"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// ClaimPayload mirrors resolver.Claim for wire transport.
type ClaimPayload struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Metadata   struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
	Spec struct {
		ModuleName     string         `json:"moduleName,omitempty"`
		StackName      string         `json:"stackName,omitempty"`
		Track          string         `json:"track"`
		Version        string         `json:"version,omitempty"`
		Variables      map[string]any `json:"variables"`
		DriftDetection struct {
			Enabled       bool     `json:"enabled"`
			Interval      string   `json:"interval,omitempty"`
			AutoRemediate bool     `json:"autoRemediate,omitempty"`
		} `json:"driftDetection"`
	} `json:"spec"`
}
