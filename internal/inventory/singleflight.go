package inventory

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var stockGroup singleflight.Group

func singleflightStock(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	resultChan := stockGroup.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
