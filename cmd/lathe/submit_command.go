package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var detail string
	var follow bool

	cmd := &cobra.Command{
		Use:   "submit <file...>",
		Short: "Upload files and create a conversion batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cli, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := cli.SubmitFiles(cmd.Context(), args, kind, detail)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Batch %s created with %d task(s)\n", resp.Batch.ID, len(resp.TaskIDs))

			if !follow {
				return nil
			}
			return watchBatch(cmd, cli, resp.Batch.ID)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Task kind for every file (convert, preview)")
	cmd.Flags().StringVar(&detail, "detail", "", "Generation detail level (standard, high)")
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "Follow the batch until it finishes")
	return cmd
}
