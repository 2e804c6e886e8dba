package postgres

import (
	"context"

	"github.com/strataio/strata/pkg/config"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/provider/registry"
)

func init() {
	registry.Register(registry.Info{
		Name:        "postgres",
		Family:      core.FamilyRelational,
		Description: "PostgreSQL tables with keyset-paginated reads and bulk inserts",
	}, func(ctx context.Context, spec *config.ProviderSpec) (core.Provider, error) {
		creds := Credentials{
			ConnectionString: spec.Credentials.Get("connection_string"),
		}
		params := Params{
			Table:            spec.StringParam("table", ""),
			Schema:           spec.StringParam("schema", defaultSchema),
			CursorColumn:     spec.StringParam("cursor_column", ""),
			TiebreakerColumn: spec.StringParam("tiebreaker_column", ""),
			Columns:          spec.StringSliceParam("columns"),
			BatchSize:        spec.IntParam("batch_size", defaultBatchSize),
		}
		return Connect(ctx, creds, params)
	})
}
