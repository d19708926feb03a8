package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download and validate the model weights without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, mgr, _, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.LoadSync(cmd.Context()); err != nil {
				return err
			}

			fmt.Printf("models ready in %s:\n", cfg.Model.Dir)
			printFiles(mgr.Files())
			return nil
		},
	}
}
