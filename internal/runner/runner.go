// Package runner implements the Terraform/OpenTofu execution step that
// runs inside the container the orchestrator's Exec.Start launches: pull
// the compiled root module artifact, restore any prior state, run
// init/plan/apply/destroy, and push the resulting state and outputs back
// to the object-storage facade. Adapted from the teacher's
// internal/provisioner/terraform/executor.go tfexec wrapper, generalized
// from a single hardcoded Plan/Apply/Destroy trio driven by an in-process
// StateStore to a facade-Object-backed pull/push cycle that streams logs
// through facade.Logs instead of batch-capturing them.
package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/terraform-exec/tfexec"
	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/models"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/infraweave-io/infraweave/pkg/logger"
	"go.uber.org/zap"
)

// Config is everything a runner invocation needs, rendered by the
// orchestrator into the container's environment at launch time.
type Config struct {
	JobID       string
	JobKind     models.JobKind
	Handle      facade.ExecHandle
	ArtifactKey string
	StateKey    string
	WorkingDir  string
	TFVars      map[string]string
}

// Result is what the orchestrator's Finalizing step reads back: the
// terraform outputs (nil for destroy/no-op plans) and whether a plan
// found pending changes.
type Result struct {
	Outputs    map[string]any
	HasChanges bool
}

// Runner executes one Terraform lifecycle operation against artifacts
// and state read from/written to an Object facade, with progress
// streamed line-by-line through a Logs facade.
type Runner struct {
	object facade.Object
	logs   facade.Logs
}

// New constructs a Runner.
func New(object facade.Object, logs facade.Logs) *Runner {
	return &Runner{object: object, logs: logs}
}

// Run executes cfg.JobKind against the artifact and state cfg names,
// writing the outputs to the object facade at /jobs/<job_id>/outputs.json
// after a successful apply or destroy.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := os.MkdirAll(cfg.WorkingDir, 0o755); err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "creating working directory")
	}
	defer os.RemoveAll(cfg.WorkingDir)

	r.logLine(ctx, cfg.Handle, fmt.Sprintf("downloading artifact %s", cfg.ArtifactKey))
	artifact, err := r.object.Get(ctx, cfg.ArtifactKey)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "downloading root module artifact")
	}
	if err := extractZip(artifact, cfg.WorkingDir); err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "extracting root module artifact")
	}

	if state, err := r.object.Get(ctx, cfg.StateKey); err == nil && len(state) > 0 {
		if err := os.WriteFile(filepath.Join(cfg.WorkingDir, "terraform.tfstate"), state, 0o644); err != nil {
			return nil, appErr.Wrap(err, appErr.KindRuntimeError, "restoring prior state")
		}
	}

	tfPath, err := exec.LookPath("terraform")
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "terraform binary not found in PATH")
	}
	tf, err := tfexec.NewTerraform(cfg.WorkingDir, tfPath)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "constructing terraform executor")
	}
	sink := &lineSink{ctx: ctx, runner: r, handle: cfg.Handle}
	tf.SetStdout(sink)
	tf.SetStderr(sink)
	if err := tf.SetEnv(cfg.TFVars); err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "setting runner environment")
	}

	r.logLine(ctx, cfg.Handle, "running terraform init")
	if err := tf.Init(ctx, tfexec.Upgrade(true)); err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "terraform init failed")
	}

	switch cfg.JobKind {
	case models.JobKindPlan, models.JobKindDrift:
		return r.plan(ctx, tf, cfg)
	case models.JobKindApply:
		return r.apply(ctx, tf, cfg)
	case models.JobKindDestroy:
		return r.destroy(ctx, tf, cfg)
	default:
		return nil, appErr.Newf(appErr.KindMalformed, "unsupported job kind %q", cfg.JobKind)
	}
}

func (r *Runner) plan(ctx context.Context, tf *tfexec.Terraform, cfg Config) (*Result, error) {
	r.logLine(ctx, cfg.Handle, "running terraform plan")
	hasChanges, err := tf.Plan(ctx)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "terraform plan failed")
	}
	if err := r.pushState(ctx, tf, cfg); err != nil {
		logger.L().Warn("plan state push failed", zap.Error(err))
	}
	return &Result{HasChanges: hasChanges}, nil
}

func (r *Runner) apply(ctx context.Context, tf *tfexec.Terraform, cfg Config) (*Result, error) {
	r.logLine(ctx, cfg.Handle, "running terraform apply")
	if err := tf.Apply(ctx); err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "terraform apply failed")
	}
	tfOutputs, err := tf.Output(ctx)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "reading terraform outputs")
	}
	outputs := make(map[string]any, len(tfOutputs))
	for k, v := range tfOutputs {
		var decoded any
		if len(v.Value) > 0 {
			if err := json.Unmarshal(v.Value, &decoded); err == nil {
				outputs[k] = decoded
			}
		}
	}
	if err := r.pushState(ctx, tf, cfg); err != nil {
		return nil, err
	}
	if err := r.pushOutputs(ctx, cfg, outputs); err != nil {
		return nil, err
	}
	return &Result{Outputs: outputs}, nil
}

func (r *Runner) destroy(ctx context.Context, tf *tfexec.Terraform, cfg Config) (*Result, error) {
	r.logLine(ctx, cfg.Handle, "running terraform destroy")
	if err := tf.Destroy(ctx); err != nil {
		return nil, appErr.Wrap(err, appErr.KindRuntimeError, "terraform destroy failed")
	}
	if err := r.pushOutputs(ctx, cfg, map[string]any{}); err != nil {
		return nil, err
	}
	return &Result{Outputs: map[string]any{}}, nil
}

func (r *Runner) pushState(ctx context.Context, tf *tfexec.Terraform, cfg Config) error {
	raw, err := os.ReadFile(filepath.Join(cfg.WorkingDir, "terraform.tfstate"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return appErr.Wrap(err, appErr.KindRuntimeError, "reading local state file")
	}
	if err := r.object.Put(ctx, cfg.StateKey, raw); err != nil {
		return appErr.Wrap(err, appErr.KindRuntimeError, "pushing state to object storage")
	}
	return nil
}

func (r *Runner) pushOutputs(ctx context.Context, cfg Config, outputs map[string]any) error {
	raw, err := json.Marshal(outputs)
	if err != nil {
		return appErr.Wrap(err, appErr.KindInternal, "encoding outputs")
	}
	key := fmt.Sprintf("/jobs/%s/outputs.json", cfg.JobID)
	if err := r.object.Put(ctx, key, raw); err != nil {
		return appErr.Wrap(err, appErr.KindRuntimeError, "pushing outputs to object storage")
	}
	return nil
}

func (r *Runner) logLine(ctx context.Context, handle facade.ExecHandle, line string) {
	if err := r.logs.Append(ctx, handle, line); err != nil {
		logger.L().Warn("failed to append runner log line", zap.Error(err))
	}
}

// lineSink adapts terraform-exec's io.Writer stdout/stderr hooks to the
// Logs facade's append-one-line-at-a-time interface.
type lineSink struct {
	ctx    context.Context
	runner *Runner
	handle facade.ExecHandle
	buf    bytes.Buffer
}

func (s *lineSink) Write(p []byte) (int, error) {
	s.buf.Write(p)
	for {
		unread := s.buf.Bytes()
		idx := bytes.IndexByte(unread, '\n')
		if idx < 0 {
			break
		}
		s.runner.logLine(s.ctx, s.handle, string(unread[:idx]))
		s.buf.Next(idx + 1)
	}
	return len(p), nil
}

func extractZip(data []byte, destDir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		path := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}
