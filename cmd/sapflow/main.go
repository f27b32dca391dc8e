// Command sapflow is the operator CLI for the ingestion service. It runs
// the same pipeline as the HTTP server against files on disk, which makes
// it useful for backfills and for dry-run checks before a real upload.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/user"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/treelab/sapflow/internal/config"
	"github.com/treelab/sapflow/internal/ingest"
	"github.com/treelab/sapflow/internal/logging"
	"github.com/treelab/sapflow/internal/parser"
	"github.com/treelab/sapflow/internal/store"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sapflow",
		Short:         "Heat-pulse logger data ingestion",
		Long:          "Ingest raw heat-pulse logger files into the archive and derive normalized, deployment-enriched measurement tables.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(ingestCommand())
	root.AddCommand(formatsCommand())
	return root
}

func ingestCommand() *cobra.Command {
	var (
		userName string
		message  string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Run one ingest transaction over the given files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Same env-driven configuration as the server.
			_ = godotenv.Overload()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

			if userName == "" {
				if u, err := user.Current(); err == nil {
					userName = u.Username
				}
			}
			if userName == "" {
				return fmt.Errorf("no --user given and the OS user is unknown")
			}

			files := make([]ingest.Input, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				files = append(files, ingest.Input{Path: path, Data: data})
			}

			ctx := cmd.Context()
			engine, cleanup, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			receipt, err := engine.Execute(ctx, files, userName, message, dryRun)
			if receipt != nil {
				printReceipt(receipt)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&userName, "user", "u", "", "name recorded on the transaction (default: OS user)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "free-form note recorded on the transaction")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the full pipeline without writing anything")
	return cmd
}

func formatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the wire formats this build can parse",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range parser.Default().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

// buildEngine connects storage and assembles the ingest engine. The returned
// cleanup closes the connection pool.
func buildEngine(ctx context.Context, cfg *config.Config) (*ingest.Engine, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	blobs, err := store.NewFSBlobs(cfg.Blob.Dir)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("prepare artifact directory: %w", err)
	}

	engine := ingest.New(parser.Default(), store.NewPG(pool), blobs, ingest.Config{
		MaxFileSize:    cfg.Ingest.MaxFileSize,
		MaxParallel:    cfg.Ingest.MaxParallel,
		StorageTimeout: cfg.Ingest.StorageTimeout,
		UTCOffset:      cfg.Ingest.UTCOffset,
		DSTShift:       cfg.Ingest.DSTShift,
	})
	return engine, pool.Close, nil
}

func printReceipt(r *ingest.Receipt) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		slog.Error("encode receipt", "error", err)
		return
	}
	fmt.Println(string(out))
}
