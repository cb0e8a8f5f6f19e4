package system

import (
	"context"

	core "github.com/nanoedge/nanoedgert/internal/core"
)

// Service represents a lifecycle-managed component with a name and
// Start/Stop methods; queue.Executor implements it.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata (layer, capabilities).
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
