package router

import (
	"context"

	"github.com/infraweave-io/infraweave/internal/catalog"
	"github.com/infraweave-io/infraweave/internal/models"
	"github.com/infraweave-io/infraweave/internal/registry"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

// publishRequest is the payload shape shared by publish_module,
// publish_stack, and publish_provider, mirroring the manifest shape of
// spec.md §6's module/stack/provider manifests plus the source archive.
type publishRequest struct {
	Track       string                     `json:"track"`
	Manifest    models.ModuleManifest      `json:"manifest"`
	SourceFiles map[string]string          `json:"sourceFiles"` // path -> base64 or raw text content
	Variables   []models.TfVariable        `json:"variables"`
	Outputs     []models.TfOutput          `json:"outputs"`
	Providers   []models.ProviderRequirement `json:"providers"`
}

func toSourceFiles(in map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = []byte(v)
	}
	return out
}

// RegisterCatalogHandlers binds publish_module, publish_stack,
// publish_provider, list_modules, and get_module_version onto rt,
// grounded on internal/catalog.Service's publish/list/get-by-version
// operations.
func RegisterCatalogHandlers(rt *Router, cat *catalog.Service, reg *registry.Registry) {
	rt.Register("publish_module", handlePublish(cat, reg, cat.PublishModule))
	rt.Register("publish_stack", handlePublish(cat, reg, cat.PublishStack))
	rt.Register("publish_provider", handlePublish(cat, reg, cat.PublishProvider))

	rt.Register("list_modules", func(ctx context.Context, req *Request) (any, error) {
		return cat.List(ctx, models.ModuleTypeModule, req.Field("name"))
	})
	rt.Register("list_stacks", func(ctx context.Context, req *Request) (any, error) {
		return cat.List(ctx, models.ModuleTypeStack, req.Field("name"))
	})
	rt.Register("list_providers", func(ctx context.Context, req *Request) (any, error) {
		return cat.List(ctx, models.ModuleTypeProvider, req.Field("name"))
	})

	rt.Register("get_module_version", handleGetVersion(cat, models.ModuleTypeModule))
	rt.Register("get_stack_version", handleGetVersion(cat, models.ModuleTypeStack))
	rt.Register("get_provider_version", handleGetVersion(cat, models.ModuleTypeProvider))

	rt.Register("get_module_download_url", handleDownloadURL(cat, models.ModuleTypeModule))
	rt.Register("get_stack_download_url", handleDownloadURL(cat, models.ModuleTypeStack))
	rt.Register("get_provider_download_url", handleDownloadURL(cat, models.ModuleTypeProvider))
}

func handlePublish(cat *catalog.Service, reg *registry.Registry, publish func(ctx context.Context, in catalog.PublishInput) (*models.CatalogEntry, error)) Handler {
	return func(ctx context.Context, req *Request) (any, error) {
		var body publishRequest
		if err := req.Decode(&body); err != nil {
			return nil, err
		}
		if body.Track == "" {
			return nil, appErr.New(appErr.KindMalformed, "track is required")
		}
		entry, err := publish(ctx, catalog.PublishInput{
			Track:       models.Track(body.Track),
			Manifest:    body.Manifest,
			SourceFiles: toSourceFiles(body.SourceFiles),
			Variables:   body.Variables,
			Outputs:     body.Outputs,
			Providers:   body.Providers,
			LiveReferenceCheck: func(ctx context.Context, typ models.ModuleType, track models.Track, name, version string) (bool, error) {
				deployments, err := reg.ListByModule(ctx, track, name, version)
				if err != nil {
					return false, err
				}
				return len(deployments) > 0, nil
			},
		})
		if err != nil {
			return nil, err
		}
		return entry, nil
	}
}

func handleGetVersion(cat *catalog.Service, typ models.ModuleType) Handler {
	return func(ctx context.Context, req *Request) (any, error) {
		track := req.Field("track")
		name := req.Field("name")
		version := req.Field("version")
		if track == "" || name == "" {
			return nil, appErr.New(appErr.KindMalformed, "track and name are required")
		}
		return cat.GetByVersion(ctx, typ, models.Track(track), name, version)
	}
}

func handleDownloadURL(cat *catalog.Service, typ models.ModuleType) Handler {
	return func(ctx context.Context, req *Request) (any, error) {
		track := req.Field("track")
		name := req.Field("name")
		version := req.Field("version")
		if track == "" || name == "" {
			return nil, appErr.New(appErr.KindMalformed, "track and name are required")
		}
		entry, err := cat.GetByVersion(ctx, typ, models.Track(track), name, version)
		if err != nil {
			return nil, err
		}
		ttl := 900
		if raw, ok := req.RawField("ttl_seconds").(float64); ok && raw > 0 {
			ttl = int(raw)
		}
		url, err := cat.DownloadURL(ctx, entry, ttl)
		if err != nil {
			return nil, err
		}
		return map[string]string{"url": url}, nil
	}
}
