package router

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/infraweave-io/infraweave/internal/facade"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
)

// RegisterFacadeHandlers binds the low-level façade passthrough events —
// start_runner, upload_file_base64, upload_file_url,
// generate_presigned_url, read_db, insert_db, transact_write, and
// publish_notification — directly onto the active facade.Provider, per
// spec.md §4.6's event taxonomy. These give the CLI and MCP adapters
// uniform access to the same KV/Object/Exec/Notify capabilities the
// catalog, resolver, and orchestrator use internally.
func RegisterFacadeHandlers(rt *Router, provider facade.Provider) {
	rt.Register("start_runner", func(ctx context.Context, req *Request) (any, error) {
		var spec facade.ExecSpec
		if err := req.Decode(&spec); err != nil {
			return nil, err
		}
		handle, err := provider.Exec().Start(ctx, spec)
		if err != nil {
			return nil, err
		}
		return map[string]string{"handle": string(handle)}, nil
	})

	rt.Register("upload_file_base64", func(ctx context.Context, req *Request) (any, error) {
		key := req.Field("key")
		encoded := req.Field("content_base64")
		if key == "" || encoded == "" {
			return nil, appErr.New(appErr.KindMalformed, "key and content_base64 are required")
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.KindMalformed, "invalid base64 content")
		}
		if err := provider.Object().Put(ctx, key, data); err != nil {
			return nil, err
		}
		return map[string]string{"key": key}, nil
	})

	rt.Register("upload_file_url", func(ctx context.Context, req *Request) (any, error) {
		key := req.Field("key")
		url := req.Field("url")
		if key == "" || url == "" {
			return nil, appErr.New(appErr.KindMalformed, "key and url are required")
		}
		data, err := fetchURL(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := provider.Object().Put(ctx, key, data); err != nil {
			return nil, err
		}
		return map[string]string{"key": key}, nil
	})

	rt.Register("generate_presigned_url", func(ctx context.Context, req *Request) (any, error) {
		key := req.Field("key")
		if key == "" {
			return nil, appErr.New(appErr.KindMalformed, "key is required")
		}
		ttl := 900
		if raw, ok := req.RawField("ttl_seconds").(float64); ok && raw > 0 {
			ttl = int(raw)
		}
		url, err := provider.Object().PresignedURL(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		return map[string]string{"url": url}, nil
	})

	rt.Register("read_db", func(ctx context.Context, req *Request) (any, error) {
		pk := req.Field("pk")
		sk := req.Field("sk")
		if pk == "" {
			return nil, appErr.New(appErr.KindMalformed, "pk is required")
		}
		if sk != "" {
			item, err := provider.KV().Get(ctx, pk, sk)
			if err != nil {
				return nil, err
			}
			return item, nil
		}
		return provider.KV().Query(ctx, pk, req.Field("sk_prefix"))
	})

	rt.Register("insert_db", func(ctx context.Context, req *Request) (any, error) {
		var item facade.KVItem
		if err := req.Decode(&item); err != nil {
			return nil, err
		}
		if item.PK == "" || item.SK == "" {
			return nil, appErr.New(appErr.KindMalformed, "pk and sk are required")
		}
		if err := provider.KV().Put(ctx, item); err != nil {
			return nil, err
		}
		return map[string]string{"pk": item.PK, "sk": item.SK}, nil
	})

	rt.Register("transact_write", func(ctx context.Context, req *Request) (any, error) {
		var body struct {
			Ops []facade.KVItem `json:"ops"`
		}
		if err := req.Decode(&body); err != nil {
			return nil, err
		}
		if len(body.Ops) == 0 {
			return nil, appErr.New(appErr.KindMalformed, "ops must not be empty")
		}
		if err := provider.KV().TransactWrite(ctx, body.Ops); err != nil {
			return nil, err
		}
		return map[string]int{"applied": len(body.Ops)}, nil
	})

	rt.Register("publish_notification", func(ctx context.Context, req *Request) (any, error) {
		topic := req.Field("topic")
		message := req.Field("message")
		if topic == "" {
			return nil, appErr.New(appErr.KindMalformed, "topic is required")
		}
		if err := provider.Notify().Publish(ctx, topic, []byte(message)); err != nil {
			return nil, err
		}
		return map[string]string{"topic": topic}, nil
	})
}

func fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindMalformed, "building fetch request")
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.KindTransient, "fetching remote file")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, appErr.Newf(appErr.KindTransient, "remote file fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
