package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/springtools/stsclient/config"
	"github.com/springtools/stsclient/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	FlagConfig = "config"
	FlagDev    = "dev"
)

var (
	configPath string
	devMode    bool
)

var rootCmd = &cobra.Command{
	Use:   "stsclient",
	Short: "Client for the Spring Tools language server",
	Long: `stsclient connects to a Spring Tools language server, keeps the connection
alive and exposes what the server reports (progress, highlights, code lenses)
to UI clients over WebSocket and to AI agents over MCP.

  stsclient serve               # connect and serve the status API
  stsclient mcp                 # connect and serve MCP on stdio
  stsclient config init PATH    # write a default config file`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Connect to the language server and serve the status API",
		RunE:  runServe,
	}

	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Connect to the language server and serve MCP tools on stdio",
		RunE:  runMCP,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init PATH",
		Short: "Write a config file with default values",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigInit,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, FlagConfig, "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&devMode, FlagDev, false, "development mode: log to stderr, accept any WebSocket origin")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(serveCmd, mcpCmd, configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the config and initializes logging.
func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{DataDir: cfg.DataDir, DevMode: devMode})

	return newApp(cfg, devMode)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	slog.Info("starting", "version", version, "transport", a.cfg.Server.Transport, "workDir", a.cfg.WorkDir)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runClient(ctx) })
	if a.cfg.Listen != "" {
		g.Go(func() error { return a.serveHTTP(ctx) })
	}

	err = g.Wait()
	slog.Info("stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runClient(ctx) })
	g.Go(func() error {
		err := a.newMCPServer().Run(ctx)
		// stdin closed: the agent is gone, take the client down with it
		if err == nil {
			err = context.Canceled
		}
		return err
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
	return nil
}
