package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/assessor-platform/legistrack/config"
	srv "github.com/assessor-platform/legistrack/internal/server"
	"github.com/assessor-platform/legistrack/internal/store"
)

func main() {
	var root = &cobra.Command{Use: "legistrack"}

	root.AddCommand(serveCMD(), migrateCMD(), pollCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the legislative tracking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = os.Getenv("LEGISTRACK_HTTP_ADDR")
			}
			return srv.Run(cfgPath, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}

func migrateCMD() *cobra.Command {
	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int
	var cfgPath string

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			if migDir == "" {
				migDir = migDirDefault
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrate
}

func pollCMD() *cobra.Command {
	var cfgPath string
	var poll = &cobra.Command{
		Use:   "poll [source]",
		Short: "Poll one source immediately and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := srv.PollOnce(context.Background(), cfgPath, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("source=%s records=%d merged=%d dropped=%d cursor_committed=%v\n",
				report.Source, report.Records, report.Merged, report.Dropped, report.Committed)
			return nil
		},
	}
	poll.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return poll
}
