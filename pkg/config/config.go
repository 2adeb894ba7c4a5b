package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment
// variables or a config file, per the environment-variable list of
// the external-interfaces section.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`

	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required,url|uri"`

	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`
	GoMaxProcs       int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`

	// Cloud-capability façade selection. CloudRuntime chooses which
	// facade.Provider implementation the process builds at startup.
	CloudRuntime string `mapstructure:"INFRAWEAVE_ENV" validate:"required,oneof=aws azure local"`
	Region       string `mapstructure:"REGION"`

	DynamoDBModulesTable     string `mapstructure:"DYNAMODB_MODULES_TABLE_NAME"`
	DynamoDBDeploymentsTable string `mapstructure:"DYNAMODB_DEPLOYMENTS_TABLE_NAME"`
	DynamoDBEventsTable      string `mapstructure:"DYNAMODB_EVENTS_TABLE_NAME"`
	DynamoDBLocksTable       string `mapstructure:"DYNAMODB_TF_LOCKS_TABLE_NAME"`
	CosmosContainerModules   string `mapstructure:"COSMOS_CONTAINER_MODULES"`
	CosmosContainerDeploys   string `mapstructure:"COSMOS_CONTAINER_DEPLOYMENTS"`

	ModulesS3Bucket    string `mapstructure:"MODULES_S3_BUCKET"`
	TFStateS3Bucket    string `mapstructure:"TF_STATE_S3_BUCKET"`
	StorageAccountName string `mapstructure:"STORAGE_ACCOUNT_NAME"`
	StorageAccountKey  string `mapstructure:"STORAGE_ACCOUNT_KEY"`

	ECSCluster        string   `mapstructure:"ECS_CLUSTER"`
	ECSTaskDefinition string   `mapstructure:"ECS_TASK_DEFINITION"`
	ECSSubnets        []string `mapstructure:"ECS_SUBNETS"`
	ECSSecurityGroups []string `mapstructure:"ECS_SECURITY_GROUPS"`

	AzureSubscriptionID   string `mapstructure:"AZURE_SUBSCRIPTION_ID"`
	AzureResourceGroup    string `mapstructure:"AZURE_RESOURCE_GROUP"`
	AzureJobTemplateName  string `mapstructure:"AZURE_JOB_TEMPLATE_NAME"`
	AzureManagementBearer string `mapstructure:"AZURE_MANAGEMENT_BEARER"`

	LocalObjectRoot     string `mapstructure:"LOCAL_OBJECT_ROOT"`
	LocalPresignBaseURL string `mapstructure:"LOCAL_PRESIGN_BASE_URL"`
	LocalWorkingDir     string `mapstructure:"LOCAL_WORKING_DIR"`

	// LockTimeout bounds how long the orchestrator polls for a contended
	// state lock before failing the job with kind Busy (spec.md §4.4).
	LockTimeout time.Duration `mapstructure:"LOCK_TIMEOUT"`
	// JobWallClockBudget cancels a job that runs longer than this,
	// releasing its lock (spec.md §5).
	JobWallClockBudget time.Duration `mapstructure:"JOB_WALL_CLOCK_BUDGET"`

	// JWT/OIDC authenticator configuration.
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	JWTAudience        string `mapstructure:"JWT_AUDIENCE"`
	JWTProjectClaimKey string `mapstructure:"JWT_PROJECT_CLAIM_KEY"`
	JWKSURL            string `mapstructure:"JWKS_URL"`
	JWTSigningKey      string `mapstructure:"JWT_SIGNING_KEY"`
	DisableJWTAuthInsecure bool `mapstructure:"DISABLE_JWT_AUTH_INSECURE"`

	ConcurrencyLimit int `mapstructure:"CONCURRENCY_LIMIT" validate:"gte=1,lte=10000"`

	// Open-question resolution: an existing version on a non-stable track
	// may be republished only when this is enabled and no deployment
	// references it; a live reference is always a hard block.
	CatalogAllowBetaRepublish bool `mapstructure:"CATALOG_ALLOW_BETA_REPUBLISH"`

	GitopsWebhookSecret string `mapstructure:"GITOPS_WEBHOOK_SECRET"`

	// DriftSweepInterval paces how often the worker scans for deployments
	// whose own driftDetection.interval has elapsed (spec.md §4.7); it is
	// the sweep's polling cadence, not any one deployment's interval.
	DriftSweepInterval time.Duration `mapstructure:"DRIFT_SWEEP_INTERVAL"`
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("GOMAXPROCS", 0)
	v.SetDefault("INFRAWEAVE_ENV", "local")
	v.SetDefault("JWT_PROJECT_CLAIM_KEY", "infraweave-projects")
	v.SetDefault("CONCURRENCY_LIMIT", 5)
	v.SetDefault("DISABLE_JWT_AUTH_INSECURE", false)
	v.SetDefault("CATALOG_ALLOW_BETA_REPUBLISH", false)
	v.SetDefault("LOCAL_OBJECT_ROOT", "./.data/objects")
	v.SetDefault("LOCAL_PRESIGN_BASE_URL", "http://localhost:8080/local-objects")
	v.SetDefault("LOCAL_WORKING_DIR", "")
	v.SetDefault("LOCK_TIMEOUT", "10m")
	v.SetDefault("JOB_WALL_CLOCK_BUDGET", "60m")
	v.SetDefault("DRIFT_SWEEP_INTERVAL", "1m")

	_ = v.ReadInConfig()

	keys := []string{
		"APP_ENV", "HTTP_ADDR", "SHUTDOWN_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT",
		"DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "ASYNQ_CONCURRENCY", "GOMAXPROCS",
		"INFRAWEAVE_ENV", "REGION",
		"DYNAMODB_MODULES_TABLE_NAME", "DYNAMODB_DEPLOYMENTS_TABLE_NAME", "DYNAMODB_EVENTS_TABLE_NAME", "DYNAMODB_TF_LOCKS_TABLE_NAME",
		"COSMOS_CONTAINER_MODULES", "COSMOS_CONTAINER_DEPLOYMENTS",
		"MODULES_S3_BUCKET", "TF_STATE_S3_BUCKET", "STORAGE_ACCOUNT_NAME", "STORAGE_ACCOUNT_KEY",
		"ECS_CLUSTER", "ECS_TASK_DEFINITION", "ECS_SUBNETS", "ECS_SECURITY_GROUPS",
		"AZURE_SUBSCRIPTION_ID", "AZURE_RESOURCE_GROUP", "AZURE_JOB_TEMPLATE_NAME", "AZURE_MANAGEMENT_BEARER",
		"LOCAL_OBJECT_ROOT", "LOCAL_PRESIGN_BASE_URL", "LOCAL_WORKING_DIR",
		"JWT_ISSUER", "JWT_AUDIENCE", "JWT_PROJECT_CLAIM_KEY", "JWKS_URL", "JWT_SIGNING_KEY", "DISABLE_JWT_AUTH_INSECURE",
		"CONCURRENCY_LIMIT", "CATALOG_ALLOW_BETA_REPUBLISH", "GITOPS_WEBHOOK_SECRET",
		"LOCK_TIMEOUT", "JOB_WALL_CLOCK_BUDGET", "DRIFT_SWEEP_INTERVAL",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	for _, dur := range []struct {
		key string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
		{"LOCK_TIMEOUT", &c.LockTimeout},
		{"JOB_WALL_CLOCK_BUDGET", &c.JobWallClockBudget},
		{"DRIFT_SWEEP_INTERVAL", &c.DriftSweepInterval},
	} {
		s := v.GetString(dur.key)
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", dur.key, err)
		}
		*dur.dst = d
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.JWTSigningKey == "" && c.JWKSURL == "" && !c.DisableJWTAuthInsecure {
		return nil, fmt.Errorf("invalid configuration: one of JWT_SIGNING_KEY or JWKS_URL is required unless DISABLE_JWT_AUTH_INSECURE is set")
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}
