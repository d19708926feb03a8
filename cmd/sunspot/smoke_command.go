package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newSmokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "smoke IMAGE...",
		Short: "Load the models and run the cascade on local image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, pipe, err := setup()
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.LoadSync(cmd.Context()); err != nil {
				return err
			}

			failed := false
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					failed = true
					continue
				}
				result, err := pipe.Predict(data)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					failed = true
					continue
				}
				out, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Printf("%s:\n%s\n", path, out)
			}
			if failed {
				return fmt.Errorf("smoke test failed for one or more images")
			}
			return nil
		},
	}
}
