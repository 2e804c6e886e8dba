package s3

import (
	"context"

	"github.com/strataio/strata/pkg/config"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/provider/registry"
)

func init() {
	registry.Register(registry.Info{
		Name:        "s3",
		Family:      core.FamilyObject,
		Description: "Amazon S3 and S3-compatible object stores with marker-paginated reads",
	}, func(ctx context.Context, spec *config.ProviderSpec) (core.Provider, error) {
		creds := Credentials{
			AccessKeyID:     spec.Credentials.Get("access_key_id"),
			SecretAccessKey: spec.Credentials.Get("secret_access_key"),
			SessionToken:    spec.Credentials.Get("session_token"),
			Region:          spec.Credentials.Get("region"),
			Endpoint:        spec.Credentials.Get("endpoint"),
		}
		params := Params{
			Bucket:    spec.StringParam("bucket", ""),
			Prefix:    spec.StringParam("prefix", ""),
			BatchSize: spec.IntParam("batch_size", defaultBatchSize),
		}
		return Connect(ctx, creds, params)
	})
}
