// Package awsfacade implements the facade.Provider capability set against
// AWS: S3 for the Object capability (with presigned URLs) and ECS RunTask
// for the Exec capability, grounded on the reference pack's aws-sdk-go-v2
// usage in artifacts.S3Store. No DynamoDB SDK exists anywhere in the
// reference pack, so KV/Logs/Notify are backed by the same postgres+redis
// facade/store implementation the local facade uses — a real
// DynamoDB-backed KV can replace it later without touching any caller,
// since both sides only depend on the facade.KV/facade.Logs/facade.Notify
// interfaces.
package awsfacade

import (
	"bytes"
	"context"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/facade/store"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"gorm.io/gorm"

	"github.com/redis/go-redis/v9"
)

// Config configures the AWS facade variant.
type Config struct {
	Region        string
	ModulesBucket string
	StateBucket   string
	ECSCluster    string
	// TaskDefinition names the ECS task definition family:revision to
	// launch for every Exec.Start call; the runner image itself is baked
	// into that task definition.
	TaskDefinition string
	// Subnets/SecurityGroups configure the awsvpc network mode RunTask
	// requires for Fargate launches.
	Subnets        []string
	SecurityGroups []string
}

// Provider is the AWS facade.Provider implementation.
type Provider struct {
	kv     facade.KV
	object facade.Object
	exec   facade.Exec
	logs   facade.Logs
	notify facade.Notify
}

var _ facade.Provider = (*Provider)(nil)

// New builds the AWS facade from ambient AWS credentials/region discovery
// (environment, shared config, or an attached role), backing KV/Logs on
// db and Notify on rdb.
func New(ctx context.Context, cfg Config, db *gorm.DB, rdb *redis.Client) (*Provider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindTransient, "load aws config failed")
	}

	s3Client := s3.NewFromConfig(awsCfg)
	ecsClient := ecs.NewFromConfig(awsCfg)

	return &Provider{
		kv:     store.NewKV(db),
		object: &s3Object{
			client:        s3Client,
			presign:       s3.NewPresignClient(s3Client),
			uploader:      manager.NewUploader(s3Client),
			downloader:    manager.NewDownloader(s3Client),
			modulesBucket: cfg.ModulesBucket,
			stateBucket:   cfg.StateBucket,
		},
		exec:   &ecsExec{client: ecsClient, cfg: cfg},
		logs:   store.NewLogs(db),
		notify: store.NewNotify(rdb),
	}, nil
}

func (p *Provider) KV() facade.KV         { return p.kv }
func (p *Provider) Object() facade.Object { return p.object }
func (p *Provider) Exec() facade.Exec     { return p.exec }
func (p *Provider) Logs() facade.Logs     { return p.logs }
func (p *Provider) Notify() facade.Notify { return p.notify }

// s3Object implements facade.Object against S3. Keys carrying "/state/"
// route to the state bucket, everything else (providers/modules/stacks
// artifacts) to the modules bucket, mirroring the persisted-layout split
// of spec.md §6.
type s3Object struct {
	client        *s3.Client
	presign       *s3.PresignClient
	uploader      *manager.Uploader
	downloader    *manager.Downloader
	modulesBucket string
	stateBucket   string
}

func (o *s3Object) bucketFor(key string) string {
	if len(key) >= 7 && key[:7] == "/state/" {
		return o.stateBucket
	}
	return o.modulesBucket
}

// Put uses the manager Uploader so artifact zips above the single-request
// size threshold transparently switch to multipart upload — the same
// upload path serves both a few-KB module manifest and a many-MB stack
// artifact bundle.
func (o *s3Object) Put(ctx context.Context, key string, data []byte) error {
	_, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: awssdk.String(o.bucketFor(key)),
		Key:    awssdk.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return appErr.Wrap(err, appErr.KindTransient, "s3 put failed")
	}
	return nil
}

func (o *s3Object) Get(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := o.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: awssdk.String(o.bucketFor(key)),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindNotFound, "s3 get failed")
	}
	return buf.Bytes(), nil
}

func (o *s3Object) Exists(ctx context.Context, key string) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: awssdk.String(o.bucketFor(key)),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (o *s3Object) Delete(ctx context.Context, key string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(o.bucketFor(key)),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return appErr.Wrap(err, appErr.KindTransient, "s3 delete failed")
	}
	return nil
}

func (o *s3Object) PresignedURL(ctx context.Context, key string, ttlSeconds int) (string, error) {
	bucket := o.bucketFor(key)
	req, err := o.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(bucket),
		Key:    awssdk.String(key),
	}, s3.WithPresignExpires(time.Duration(ttlSeconds)*time.Second))
	if err != nil {
		return "", appErr.Wrap(err, appErr.KindTransient, "s3 presign failed")
	}
	return req.URL, nil
}

// ecsExec implements facade.Exec by launching one Fargate task per job via
// ECS RunTask, injecting the caller's environment as container
// overrides — the AWS variant of "launches one container with named
// environment variables" from spec.md §4.1.
type ecsExec struct {
	client *ecs.Client
	cfg    Config
}

func (e *ecsExec) Start(ctx context.Context, spec facade.ExecSpec) (facade.ExecHandle, error) {
	envs := make([]ecstypes.KeyValuePair, 0, len(spec.Env))
	for k, v := range spec.Env {
		envs = append(envs, ecstypes.KeyValuePair{Name: awssdk.String(k), Value: awssdk.String(v)})
	}

	out, err := e.client.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        awssdk.String(e.cfg.ECSCluster),
		TaskDefinition: awssdk.String(e.cfg.TaskDefinition),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          awssdk.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        e.cfg.Subnets,
				SecurityGroups: e.cfg.SecurityGroups,
				AssignPublicIp: ecstypes.AssignPublicIpEnabled,
			},
		},
		Overrides: &ecstypes.TaskOverride{
			ContainerOverrides: []ecstypes.ContainerOverride{
				{Name: awssdk.String("runner"), Command: spec.Command, Environment: envs},
			},
		},
	})
	if err != nil {
		return "", appErr.Wrap(err, appErr.KindTransient, "ecs run_task failed")
	}
	if len(out.Tasks) == 0 {
		return "", appErr.New(appErr.KindTransient, "ecs run_task returned no tasks")
	}
	return facade.ExecHandle(awssdk.ToString(out.Tasks[0].TaskArn)), nil
}

func (e *ecsExec) Status(ctx context.Context, handle facade.ExecHandle) (facade.ExecStatus, error) {
	out, err := e.client.DescribeTasks(ctx, &ecs.DescribeTasksInput{
		Cluster: awssdk.String(e.cfg.ECSCluster),
		Tasks:   []string{string(handle)},
	})
	if err != nil {
		return "", appErr.Wrap(err, appErr.KindTransient, "ecs describe_tasks failed")
	}
	if len(out.Tasks) == 0 {
		return facade.ExecStatusLost, nil
	}
	task := out.Tasks[0]
	switch awssdk.ToString(task.LastStatus) {
	case "STOPPED":
		if task.Containers != nil && len(task.Containers) > 0 && awssdk.ToInt32(task.Containers[0].ExitCode) == 0 {
			return facade.ExecStatusSucceeded, nil
		}
		return facade.ExecStatusFailed, nil
	case "RUNNING":
		return facade.ExecStatusRunning, nil
	default:
		return facade.ExecStatusRunning, nil
	}
}

func (e *ecsExec) Cancel(ctx context.Context, handle facade.ExecHandle) error {
	_, err := e.client.StopTask(ctx, &ecs.StopTaskInput{
		Cluster: awssdk.String(e.cfg.ECSCluster),
		Task:    awssdk.String(string(handle)),
		Reason:  awssdk.String("cancelled by orchestrator"),
	})
	if err != nil {
		return appErr.Wrap(err, appErr.KindTransient, "ecs stop_task failed")
	}
	return nil
}
