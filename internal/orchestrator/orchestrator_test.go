package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/models"
	"github.com/infraweave-io/infraweave/internal/resolver"
	"github.com/stretchr/testify/require"
)

func TestNewJobStartsInInit(t *testing.T) {
	job := NewJob(uuid.New(), models.JobKindApply)
	require.Equal(t, models.JobStatusInit, job.Status)
	require.Equal(t, models.JobKindApply, job.Kind)
}

func TestNextEpochSeqIsMonotonicAcrossCalls(t *testing.T) {
	a := nextEpochSeq()
	b := nextEpochSeq()
	c := nextEpochSeq()
	require.Less(t, a, b)
	require.Less(t, b, c)
}

func TestRunnerEnvIncludesDeploymentMetadataAndTfVars(t *testing.T) {
	job := NewJob(uuid.New(), models.JobKindPlan)
	plan := &resolver.ResolvedPlan{
		RootArtifactDigest: "sha256:deadbeef",
		InputMap: map[string]any{
			"bucketName": "demo",
			"count":      3,
		},
	}

	env := runnerEnv(job, plan, "prod")

	require.Equal(t, job.ID.String(), env["INFRAWEAVE_JOB_ID"])
	require.Equal(t, "plan", env["INFRAWEAVE_JOB_KIND"])
	require.Equal(t, "prod", env["INFRAWEAVE_ENVIRONMENT"])
	require.Equal(t, "sha256:deadbeef", env["INFRAWEAVE_ARTIFACT_DIGEST"])
	require.Equal(t, `"demo"`, env["TF_VAR_bucketName"])
	require.Equal(t, `3`, env["TF_VAR_count"])
}

// fakeExec is a minimal facade.Exec used to drive awaitCompletion without a
// real runner.
type fakeExec struct {
	statuses []facade.ExecStatus
	calls    int
}

func (f *fakeExec) Start(ctx context.Context, spec facade.ExecSpec) (facade.ExecHandle, error) {
	return "handle-1", nil
}

func (f *fakeExec) Status(ctx context.Context, handle facade.ExecHandle) (facade.ExecStatus, error) {
	s := f.statuses[f.calls]
	if f.calls < len(f.statuses)-1 {
		f.calls++
	}
	return s, nil
}

func (f *fakeExec) Cancel(ctx context.Context, handle facade.ExecHandle) error { return nil }

type fakeLogs struct{}

func (fakeLogs) Append(ctx context.Context, handle facade.ExecHandle, line string) error { return nil }
func (fakeLogs) Read(ctx context.Context, handle facade.ExecHandle, cursor string, limit int) ([]string, string, error) {
	return nil, cursor, nil
}

type fakeProvider struct {
	exec *fakeExec
	logs facade.Logs
}

func (p *fakeProvider) KV() facade.KV         { return nil }
func (p *fakeProvider) Object() facade.Object { return nil }
func (p *fakeProvider) Exec() facade.Exec     { return p.exec }
func (p *fakeProvider) Logs() facade.Logs     { return p.logs }
func (p *fakeProvider) Notify() facade.Notify { return nil }

func TestAwaitCompletionReturnsOnTerminalStatus(t *testing.T) {
	o := &Orchestrator{
		provider: &fakeProvider{
			exec: &fakeExec{statuses: []facade.ExecStatus{facade.ExecStatusRunning, facade.ExecStatusSucceeded}},
			logs: fakeLogs{},
		},
		pollEvery: 10 * time.Millisecond,
	}
	job := NewJob(uuid.New(), models.JobKindApply)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := o.awaitCompletion(ctx, job, "handle-1")
	require.NoError(t, err)
	require.Equal(t, facade.ExecStatusSucceeded, status)
}

func TestAwaitCompletionReportsRunnerLost(t *testing.T) {
	o := &Orchestrator{
		provider: &fakeProvider{
			exec: &fakeExec{statuses: []facade.ExecStatus{facade.ExecStatusLost}},
			logs: fakeLogs{},
		},
		pollEvery: 10 * time.Millisecond,
	}
	job := NewJob(uuid.New(), models.JobKindApply)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := o.awaitCompletion(ctx, job, "handle-1")
	require.Error(t, err)
}
