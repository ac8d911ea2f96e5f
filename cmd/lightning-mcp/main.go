package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ArkLabsHQ/lightning-mcp/internal/config"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/application"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/domain"
	"github.com/ArkLabsHQ/lightning-mcp/internal/core/ports"
	"github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/cln"
	"github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/db"
	"github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/lnd"
	"github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/lndrest"
	scheduler "github.com/ArkLabsHQ/lightning-mcp/internal/infrastructure/scheduler/gocron"
	mcp_interface "github.com/ArkLabsHQ/lightning-mcp/internal/interface/mcp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

var backendFactories = map[domain.Implementation]ports.LnServiceFactory{
	domain.LND:        lnd.NewService,
	domain.CLightning: cln.NewService,
	domain.External:   lndrest.NewService,
}

func main() {
	// stdout belongs to the stdio transport
	log.SetOutput(os.Stderr)

	rootCmd := &cobra.Command{
		Use:           "lightning-mcp",
		Short:         "MCP server exposing a Lightning node as tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "", "path to the config file (json or yaml)",
	)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the MCP server",
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the config and print the resolved values",
			RunE:  checkConfig,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version and build info",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func serve(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log.SetLevel(log.Level(cfg.Server.LogLevel))
	if cfg.File() != "" {
		log.Infof("loaded config from %s", cfg.File())
	}

	log.Info("starting lightning-mcp...")

	dbSvc, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{cfg.Datadir(), nil},
	})
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer dbSvc.Close()

	buildInfo := application.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	lnOpts := cfg.LnConnectionOpts()
	selector := application.NewBackendSelector(lnOpts, backendFactories, cfg.ConnectionTimeout())

	appSvc := application.NewService(buildInfo, application.ServiceConfig{
		Limits:               cfg.Limits(),
		ConnectionTimeout:    cfg.ConnectionTimeout(),
		PaymentTimeout:       cfg.PaymentTimeout(),
		MaxRoutingFeePercent: cfg.Advanced.MaxRoutingFeePercent,
		ReconcileInterval:    cfg.ReconcileInterval(),
	}, selector, dbSvc.Payments(), scheduler.NewScheduler())

	if err := appSvc.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start application service: %w", err)
	}
	defer appSvc.Stop()

	serverVersion := cfg.Server.Version
	if serverVersion == "" {
		serverVersion = version
	}
	svc, err := mcp_interface.NewService(mcp_interface.Config{
		Name:              cfg.Server.Name,
		Version:           serverVersion,
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		Transport:         cfg.Server.Transport,
		Network:           lnOpts.Network,
		MaxCallsPerSecond: cfg.Advanced.MaxCallsPerSecond,
	}, appSvc)
	if err != nil {
		return fmt.Errorf("failed to init interface service: %w", err)
	}

	log.RegisterExitHandler(svc.Stop)

	log.WithFields(log.Fields{
		"implementation": lnOpts.Implementation,
		"network":        lnOpts.Network,
		"transport":      cfg.Server.Transport,
	}).Info("starting service...")
	if err := svc.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-sigChan:
	case <-svc.Done():
		log.Info("transport closed")
	}

	log.Info("shutting down service...")
	svc.Stop()
	return nil
}

func checkConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if cfg.File() != "" {
		fmt.Fprintf(out, "config file: %s\n", cfg.File())
	}
	fmt.Fprintln(out, string(buf))
	return nil
}
