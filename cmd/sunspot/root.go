package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/sunspot/internal/config"
	"github.com/crimson-sun/sunspot/internal/logging"
	"github.com/crimson-sun/sunspot/internal/pipeline"
	"github.com/crimson-sun/sunspot/internal/provision"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sunspot",
		Short:         "PV panel fault classification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newSmokeCommand())
	root.AddCommand(newFetchCommand())
	return root
}

// setup loads and validates configuration, initializes logging, and wires the
// provisioning manager and inference pipeline.
func setup() (config.Config, *provision.Manager, *pipeline.Pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, nil, err
	}

	logging.Init(cfg.LogJSON, logging.ParseLevel(cfg.LogLevel))

	mgr := provision.FromConfig(cfg.Model, cfg.Labels)
	pipe := pipeline.New(mgr, cfg.Labels, cfg.Model.Threshold, cfg.Model.Multihead)
	return cfg, mgr, pipe, nil
}

func printFiles(files []provision.FileStatus) {
	for _, f := range files {
		state := "missing"
		switch {
		case f.Placeholder:
			state = "git-lfs pointer"
		case f.Exists:
			state = fmt.Sprintf("%d bytes", f.SizeBytes)
		}
		fmt.Printf("  %-24s %s\n", f.Name, state)
	}
}
