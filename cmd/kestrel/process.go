package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func processCmd(c *cli) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Triage one dispute read as JSON from a file or stdin",
		Example: `  kestrel process --file dispute.json
  echo '{"amountMinor":4999,"currency":"USD","narrative":"charged twice"}' | kestrel process`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", file, err)
				}
				defer f.Close()
				r = f
			}

			var in domain.CaseInput
			if err := json.NewDecoder(r).Decode(&in); err != nil {
				return fmt.Errorf("failed to parse dispute: %w", err)
			}

			a, err := newApp(c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.orchestrator.Submit(cmd.Context(), in)
			if err != nil {
				var verr *domain.ValidationError
				if errors.As(err, &verr) {
					for _, f := range verr.Fields {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", f.Field, f.Message)
					}
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "dispute JSON file (default: stdin)")
	return cmd
}
