//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/shiftsync/shiftsync/internal/core/merge"
	"github.com/shiftsync/shiftsync/internal/core/observability/log"
	"github.com/shiftsync/shiftsync/internal/core/store"
)

func ProvideResolver(logger log.Log) *merge.Resolver {
	wire.Build(
		store.NewMemoryStore,
		wire.Bind(new(store.DocumentStore), new(*store.MemoryStore)),
		merge.NewResolver,
	)
	return nil
}
