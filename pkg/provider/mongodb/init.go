package mongodb

import (
	"context"

	"github.com/strataio/strata/pkg/config"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/provider/registry"
)

func init() {
	registry.Register(registry.Info{
		Name:        "mongodb",
		Family:      core.FamilyDocument,
		Description: "MongoDB collections with _id-keyset reads and ordered bulk inserts",
	}, func(ctx context.Context, spec *config.ProviderSpec) (core.Provider, error) {
		creds := Credentials{
			URI: spec.Credentials.Get("uri"),
		}
		params := Params{
			Database:   spec.StringParam("database", ""),
			Collection: spec.StringParam("collection", ""),
			BatchSize:  spec.IntParam("batch_size", defaultBatchSize),
		}
		return Connect(ctx, creds, params)
	})
}
