package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strataio/strata/pkg/config"
	"github.com/strataio/strata/pkg/logger"
	"github.com/strataio/strata/pkg/provider/registry"

	// Import all providers to register them
	_ "github.com/strataio/strata/pkg/provider/kafka"
	_ "github.com/strataio/strata/pkg/provider/mongodb"
	_ "github.com/strataio/strata/pkg/provider/postgres"
	_ "github.com/strataio/strata/pkg/provider/qdrant"
	_ "github.com/strataio/strata/pkg/provider/s3"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var manifestFile, logLevel string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "strata",
		Short: "Strata - uniform data access across heterogeneous stores",
		Long: `Strata exposes object stores, relational databases, vector databases,
document stores, and message brokers behind one provider contract with
resumable reads, batched writes, and a normalized error taxonomy.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: logLevel})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "error", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Strata v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available providers:")
			for _, info := range registry.List() {
				fmt.Printf("  - %-10s %-12s %s\n", info.Name, "("+string(info.Family)+")", info.Description)
			}
		},
	})

	pingCmd := &cobra.Command{
		Use:   "ping [provider-name]",
		Short: "Connect a provider from the manifest and check it is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return pingProvider(cmd, manifestFile, args[0], timeout)
		},
	}
	pingCmd.Flags().StringVarP(&manifestFile, "manifest", "m", "strata.yaml", "Path to the provider manifest")
	pingCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Connect and ping timeout")
	root.AddCommand(pingCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func pingProvider(cmd *cobra.Command, manifestFile, name string, timeout time.Duration) error {
	manifest, err := config.Load(manifestFile)
	if err != nil {
		return err
	}
	spec, err := manifest.Find(name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	start := time.Now()
	p, err := registry.Connect(ctx, spec)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(ctx); cerr != nil {
			logger.Get().Warn("failed to close provider", zap.Error(cerr))
		}
	}()

	if err := p.Ping(ctx); err != nil {
		return err
	}

	fmt.Printf("%s (%s/%s): ok in %s\n", name, p.Name(), p.Family(), time.Since(start).Round(time.Millisecond))
	return nil
}
