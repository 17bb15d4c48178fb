package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Vadoid/iceberg-explorer/internal/explorer"
	"github.com/Vadoid/iceberg-explorer/internal/iceberg"
	"github.com/Vadoid/iceberg-explorer/internal/server"
	"github.com/Vadoid/iceberg-explorer/pkg/config"
	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
	"github.com/Vadoid/iceberg-explorer/pkg/logger"
	"github.com/Vadoid/iceberg-explorer/pkg/observability"
	"github.com/Vadoid/iceberg-explorer/pkg/storage"
)

var version = server.Version

// globalFlags are shared by every command.
type globalFlags struct {
	configFile string
	logLevel   string
	token      string
	projectID  string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "iceberg-explorer",
		Short: "Inspect Apache Iceberg tables in object storage",
		Long: `iceberg-explorer reads Iceberg table metadata straight from GCS, S3 or any
gocloud bucket: snapshots, manifests, data files, partitions and sample rows.
Run "serve" for the HTTP API or use the commands below from a terminal.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("ICEBERG_EXPLORER_TOKEN"), "OAuth2 bearer token; application default credentials are used when empty")
	root.PersistentFlags().StringVar(&flags.projectID, "project", "", "Cloud project id")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("iceberg-explorer v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(serveCommand(flags))
	root.AddCommand(analyzeCommand(flags))
	root.AddCommand(sampleCommand(flags))
	root.AddCommand(compareCommand(flags))
	root.AddCommand(discoverCommand(flags))
	root.AddCommand(configCommand(flags))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and initializes the global logger.
func setup(flags *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Observability.LogLevel = flags.logLevel
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Development: cfg.Observability.Development,
		Encoding:    cfg.Observability.LogEncoding,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return nil, nil, err
	}
	return cfg, logger.Get().With(zap.String("component", "iceberg-explorer")), nil
}

func (f *globalFlags) credentials() storage.Credentials {
	if f.token != "" {
		return storage.BearerToken(f.token, f.projectID)
	}
	return storage.Credentials{ProjectID: f.projectID}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	data, err := jsonpkg.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(data))
	return err
}

func serveCommand(flags *globalFlags) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if address != "" {
				cfg.Server.Address = address
			}

			shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
				ServiceName:    "iceberg-explorer",
				ServiceVersion: version,
				Enabled:        cfg.Observability.EnableTracing,
				SamplingRate:   cfg.Observability.TracingSampleRate,
			})
			if err != nil {
				return err
			}

			srv := server.New(cfg, explorer.New(cfg, log), log)

			ctx, stop := signalContext()
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("graceful shutdown failed", zap.Error(err))
			}
			if err := shutdownTracing(shutdownCtx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Listen address; overrides server.address")
	return cmd
}

func analyzeCommand(flags *globalFlags) *cobra.Command {
	var bucket, path string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Print the full analysis of a table as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			analysis, err := explorer.New(cfg, log).Analyze(ctx, flags.credentials(), bucket, path)
			if err != nil {
				return err
			}
			return printJSON(analysis)
		},
	}
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "Bucket holding the table (required)")
	cmd.Flags().StringVarP(&path, "path", "p", "", "Table path within the bucket (required)")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func sampleCommand(flags *globalFlags) *cobra.Command {
	var req iceberg.SampleRequest
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print sample rows of a table as JSON",
		Long: `Print sample rows of a table. By default rows come from the current snapshot;
--file, --manifest or --snapshot-id select a specific source, in that order of precedence.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			result, err := explorer.New(cfg, log).Sample(ctx, flags.credentials(), req)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVarP(&req.Bucket, "bucket", "b", "", "Bucket holding the table (required)")
	cmd.Flags().StringVarP(&req.TablePath, "path", "p", "", "Table path within the bucket (required)")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 0, "Maximum rows to return; the configured default when 0")
	cmd.Flags().StringVar(&req.SnapshotID, "snapshot-id", "", "Sample the files of this snapshot")
	cmd.Flags().StringVar(&req.ManifestPath, "manifest", "", "Sample the files of this manifest")
	cmd.Flags().StringVar(&req.FilePath, "file", "", "Sample this data file")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func compareCommand(flags *globalFlags) *cobra.Command {
	var bucket, path, from, to string
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Print the data file differences between two snapshots as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			diff, err := explorer.New(cfg, log).Compare(ctx, flags.credentials(), bucket, path, from, to)
			if err != nil {
				return err
			}
			return printJSON(diff)
		},
	}
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "Bucket holding the table (required)")
	cmd.Flags().StringVarP(&path, "path", "p", "", "Table path within the bucket (required)")
	cmd.Flags().StringVar(&from, "from", "", "Older snapshot id; empty compares against an empty table")
	cmd.Flags().StringVar(&to, "to", "", "Newer snapshot id (required)")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func discoverCommand(flags *globalFlags) *cobra.Command {
	var bucket string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the Iceberg tables of a bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			found, err := explorer.New(cfg, log).Discover(ctx, flags.credentials(), bucket, flags.projectID)
			if err != nil {
				return err
			}
			return printJSON(found)
		},
	}
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "Bucket to scan (required)")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}

func configCommand(flags *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write the effective configuration as YAML",
		Long: `Writes the configuration that serve would use (defaults, the --config file
and ICEBERG_EXPLORER_* overrides) to --out, or prints it when --out is empty.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if out == "" {
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			}
			if err := config.Save(out, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "configuration written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "File to write the YAML configuration to")
	return cmd
}
