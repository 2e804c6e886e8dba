package kafka

import (
	"context"
	"strings"

	"github.com/strataio/strata/pkg/config"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/provider/registry"
)

func init() {
	registry.Register(registry.Info{
		Name:        "kafka",
		Family:      core.FamilyMessage,
		Description: "Kafka topics with offset-resumable reads and batched produces",
	}, func(ctx context.Context, spec *config.ProviderSpec) (core.Provider, error) {
		var brokers []string
		for _, broker := range strings.Split(spec.Credentials.Get("brokers"), ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				brokers = append(brokers, broker)
			}
		}
		creds := Credentials{
			Brokers:  brokers,
			Username: spec.Credentials.Get("username"),
			Password: spec.Credentials.Get("password"),
		}
		params := Params{
			Topic:     spec.StringParam("topic", ""),
			BatchSize: spec.IntParam("batch_size", defaultBatchSize),
		}
		return Connect(ctx, creds, params)
	})
}
