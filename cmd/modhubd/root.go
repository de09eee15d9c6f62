package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modhub/config"
	"github.com/GoCodeAlone/modhub/internal/logging"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func versionString() string {
	return fmt.Sprintf("modhubd v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// newRootCommand creates the command tree. The root command runs the hub.
func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "modhubd",
		Short: "Module hub daemon",
		Long: `modhubd loads module configurations, drives the module lifecycle and
serves the admin API until it receives SIGINT or SIGTERM. Settings come from
the configuration file and MODHUB_* environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHub(ctx, configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "hub configuration file (.yaml, .toml or .json)")

	cmd.AddCommand(newConfigCommand(&configPath))
	cmd.AddCommand(newTypesCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func runHub(ctx context.Context, configPath string) error {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, _, err := logging.Init(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	logger := logging.New(s)
	defer func() { _ = logger.Sync() }()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("Starting hub", "version", Version, "config", configPath)
	return d.run(ctx)
}

// newConfigCommand prints the effective configuration and where each value
// came from.
func newConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective hub configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loader, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg, loader)
		},
	}
}

func printConfig(w io.Writer, cfg *config.HubConfig, loader *config.Loader) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}

	fields := map[string]any{}
	flatten("", tree, fields)
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for _, p := range paths {
		prov := loader.Provenance(p)
		source := prov.Source
		if prov.SourceDetail != "" {
			source += " " + prov.SourceDetail
		}
		if _, err := fmt.Fprintf(w, "%s = %v (%s)\n", p, fields[p], source); err != nil {
			return err
		}
	}
	return nil
}

func flatten(prefix string, node map[string]any, out map[string]any) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(path, child, out)
			continue
		}
		out[path] = v
	}
}

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the installed module types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			providers, err := installProviders()
			if err != nil {
				return err
			}
			for _, p := range providers.Installed() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s %s\t%s\n", p.Type, p.Name, p.Version, p.Description)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}
