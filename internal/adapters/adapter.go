package adapters

import "context"

// Adapter is a background endpoint owned by bootstrap. Start blocks until
// ctx is done or the endpoint fails.
type Adapter interface {
	Start(ctx context.Context) error
}

// Func adapts a plain function to Adapter.
type Func func(ctx context.Context) error

func (f Func) Start(ctx context.Context) error { return f(ctx) }
