package qdrant

import (
	"context"
	"strconv"

	"github.com/strataio/strata/pkg/config"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/provider/registry"
)

func init() {
	registry.Register(registry.Info{
		Name:        "qdrant",
		Family:      core.FamilyVector,
		Description: "Qdrant vector collections with scroll-paginated reads and batched upserts",
	}, func(ctx context.Context, spec *config.ProviderSpec) (core.Provider, error) {
		port, _ := strconv.Atoi(spec.Credentials.Get("port"))
		creds := Credentials{
			Host:   spec.Credentials.Get("host"),
			Port:   port,
			APIKey: spec.Credentials.Get("api_key"),
			UseTLS: spec.Credentials.Get("use_tls") == "true",
		}
		params := Params{
			Collection: spec.StringParam("collection", ""),
			BatchSize:  spec.IntParam("batch_size", defaultBatchSize),
		}
		return Connect(ctx, creds, params)
	})
}
