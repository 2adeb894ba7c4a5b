package store

import (
	"context"

	"github.com/infraweave-io/infraweave/internal/facade"
	appErr "github.com/infraweave-io/infraweave/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Notify is the best-effort pub/sub fanout shared by every facade
// variant, reusing the redis dependency already present for asynq.
type Notify struct {
	rdb *redis.Client
}

func NewNotify(rdb *redis.Client) *Notify { return &Notify{rdb: rdb} }

var _ facade.Notify = (*Notify)(nil)

func (n *Notify) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := n.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "facade notify publish failed")
	}
	return nil
}
