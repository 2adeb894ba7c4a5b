package build

import (
	"context"

	"github.com/infraweave-io/infraweave/internal/facade"
	"github.com/infraweave-io/infraweave/internal/facade/awsfacade"
	"github.com/infraweave-io/infraweave/internal/facade/azurefacade"
	"github.com/infraweave-io/infraweave/internal/facade/localfacade"
	"github.com/infraweave-io/infraweave/pkg/config"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Build selects and constructs the Provider variant named by
// cfg.CloudRuntime, the cloud-capability façade's single startup-time
// discriminant per spec.md §4.1.
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client) (facade.Provider, error) {
	switch facade.Runtime(cfg.CloudRuntime) {
	case facade.RuntimeAWS:
		return awsfacade.New(ctx, awsfacade.Config{
			Region:         cfg.Region,
			ModulesBucket:  cfg.ModulesS3Bucket,
			StateBucket:    cfg.TFStateS3Bucket,
			ECSCluster:     cfg.ECSCluster,
			TaskDefinition: cfg.ECSTaskDefinition,
			Subnets:        cfg.ECSSubnets,
			SecurityGroups: cfg.ECSSecurityGroups,
		}, db, rdb)
	case facade.RuntimeAzure:
		return azurefacade.New(azurefacade.Config{
			StorageAccount:   cfg.StorageAccountName,
			StorageAccessKey: cfg.StorageAccountKey,
			ModulesContainer: "modules",
			StateContainer:   "state",
			SubscriptionID:   cfg.AzureSubscriptionID,
			ResourceGroup:    cfg.AzureResourceGroup,
			JobTemplateName:  cfg.AzureJobTemplateName,
			ManagementBearer: cfg.AzureManagementBearer,
		}, db, rdb), nil
	case facade.RuntimeLocal:
		return localfacade.New(localfacade.Config{
			ObjectRoot:     cfg.LocalObjectRoot,
			PresignBaseURL: cfg.LocalPresignBaseURL,
		}, db, rdb)
	default:
		return nil, appErr.Newf(appErr.CodeInvalid, "unknown cloud runtime %q", cfg.CloudRuntime)
	}
}
