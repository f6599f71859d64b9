package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lathe/internal/transfer"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var detail string

	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Manage the local upload queue",
	}
	uploadCmd.PersistentFlags().StringVar(&kind, "kind", "", "Task kind for uploaded files")
	uploadCmd.PersistentFlags().StringVar(&detail, "detail", "", "Generation detail level")

	openQueue := func() (*transfer.Queue, error) {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return nil, err
		}
		cli, err := ctx.apiClient()
		if err != nil {
			return nil, err
		}
		uploader := &transfer.DaemonUploader{Client: cli, Kind: kind, Detail: detail}
		return transfer.Open(uploader, transfer.SettingsFromConfig(cfg))
	}

	uploadCmd.AddCommand(newUploadAddCommand(openQueue))
	uploadCmd.AddCommand(newUploadStartCommand(openQueue))
	uploadCmd.AddCommand(newUploadStartAllCommand(openQueue))
	uploadCmd.AddCommand(newUploadItemCommand(openQueue, "pause", "Pause an uploading item", func(q *transfer.Queue, id string) (transfer.Item, error) {
		return q.Pause(id)
	}))
	uploadCmd.AddCommand(newUploadItemCommand(openQueue, "cancel", "Cancel an item", func(q *transfer.Queue, id string) (transfer.Item, error) {
		return q.Cancel(id)
	}))
	uploadCmd.AddCommand(newUploadItemCommand(openQueue, "retry", "Requeue a failed item", func(q *transfer.Queue, id string) (transfer.Item, error) {
		return q.Retry(id)
	}))
	uploadCmd.AddCommand(newUploadBulkCommand(openQueue, "pause-all", "Pause all uploading items", func(q *transfer.Queue) []transfer.Item {
		return q.PauseAll()
	}))
	uploadCmd.AddCommand(newUploadBulkCommand(openQueue, "cancel-all", "Cancel every pending item", func(q *transfer.Queue) []transfer.Item {
		return q.CancelAll()
	}))
	uploadCmd.AddCommand(newUploadListCommand(openQueue))
	uploadCmd.AddCommand(newUploadClearCommand(openQueue))
	return uploadCmd
}

func newUploadAddCommand(openQueue func() (*transfer.Queue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file...>",
		Short: "Add files to the upload queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			stdout := cmd.OutOrStdout()
			for _, path := range args {
				item, err := q.Add(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Queued %s (%s) as %s\n", item.Path, humanize.Bytes(uint64(item.Size)), item.ID)
			}
			return nil
		},
	}
}

func newUploadStartCommand(openQueue func() (*transfer.Queue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "start <item-id>",
		Short: "Upload one queued item and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			if _, err := q.Start(args[0]); err != nil {
				return err
			}
			q.Wait()
			return reportOutcomes(cmd, q, args[0])
		},
	}
}

func newUploadStartAllCommand(openQueue func() (*transfer.Queue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "start-all",
		Short: "Upload every queued item, bounded by the concurrency cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			q.StartAll()
			q.Wait()
			return reportOutcomes(cmd, q)
		},
	}
}

func newUploadItemCommand(openQueue func() (*transfer.Queue, error), use, short string, op func(*transfer.Queue, string) (transfer.Item, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			item, err := op(q, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", item.ID, item.Status)
			return nil
		},
	}
}

func newUploadBulkCommand(openQueue func() (*transfer.Queue, error), use, short string, op func(*transfer.Queue) []transfer.Item) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			printUploadTable(cmd, op(q))
			return nil
		},
	}
}

func newUploadListCommand(openQueue func() (*transfer.Queue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the upload queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			printUploadTable(cmd, q.List())
			return nil
		},
	}
}

func newUploadClearCommand(openQueue func() (*transfer.Queue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove completed, failed, and cancelled items",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			removed := q.Clear()
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", removed)
			return nil
		},
	}
}

func printUploadTable(cmd *cobra.Command, items []transfer.Item) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		detail := item.BatchID
		if item.Error != "" {
			detail = item.Error
		}
		rows = append(rows, []string{
			item.ID,
			item.Path,
			humanize.Bytes(uint64(item.Size)),
			string(item.Status),
			fmt.Sprintf("%.0f%%", item.Progress),
			strconv.Itoa(item.Retries),
			detail,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "File", "Size", "Status", "Progress", "Retries", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
	))
}

func reportOutcomes(cmd *cobra.Command, q *transfer.Queue, ids ...string) error {
	items := q.List()
	if len(ids) > 0 {
		wanted := make(map[string]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		filtered := items[:0]
		for _, item := range items {
			if wanted[item.ID] {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	printUploadTable(cmd, items)
	for _, item := range items {
		if item.Status == transfer.StatusFailed {
			return fmt.Errorf("upload %s failed: %s", item.ID, item.Error)
		}
	}
	return nil
}
