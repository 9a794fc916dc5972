package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/service"
	"github.com/mls-sync/internal/types"
)

// syncClient is the slice of the sync service the CLI uses
type syncClient interface {
	Sources() []string
	TriggerSync(ctx context.Context, source string, mode types.SyncMode) (*service.SyncResult, error)
	GetSyncHistory(ctx context.Context, filter models.SyncHistoryFilter, page models.Pagination) (*service.Page[*models.SyncHistory], error)
	TestConnection(ctx context.Context, source string) (bool, error)
}

type connectFunc func(ctx context.Context) (syncClient, func(), error)

func newRootCommand(connect connectFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "mlsctl",
		Short:         "Trigger and inspect MLS listing syncs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSourcesCommand(connect),
		newSyncCommand(connect),
		newHistoryCommand(connect),
		newTestConnectionCommand(connect),
	)
	return root
}

// withClient connects, runs fn and always releases the connection
func withClient(cmd *cobra.Command, connect connectFunc, fn func(ctx context.Context, c syncClient) error) error {
	ctx := cmd.Context()
	c, closeFn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, c)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSourcesCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, connect, func(ctx context.Context, c syncClient) error {
				for _, name := range c.Sources() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newSyncCommand(connect connectFunc) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "sync <source>",
		Short: "Run one sync of a source and print its result",
		Example: `  mlsctl sync crmls                 # incremental sync
  mlsctl sync crmls --mode full     # full snapshot reload`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, ok := types.ParseSyncMode(mode)
			if !ok {
				return fmt.Errorf("invalid --mode %q: must be full or incremental", mode)
			}
			return withClient(cmd, connect, func(ctx context.Context, c syncClient) error {
				res, err := c.TriggerSync(ctx, args[0], m)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("sync %s failed: %s", res.RunID, res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(types.SyncModeIncremental), "sync mode: full or incremental")
	return cmd
}

func newHistoryCommand(connect connectFunc) *cobra.Command {
	var (
		source string
		mode   string
		status string
		since  time.Duration
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.SyncHistoryFilter{Source: source, Status: types.RunStatus(status)}
			if mode != "" {
				m, ok := types.ParseSyncMode(mode)
				if !ok {
					return fmt.Errorf("invalid --mode %q: must be full or incremental", mode)
				}
				filter.Mode = m
			}
			if since > 0 {
				t := time.Now().Add(-since).UTC()
				filter.Since = &t
			}
			return withClient(cmd, connect, func(ctx context.Context, c syncClient) error {
				page, err := c.GetSyncHistory(ctx, filter, models.Pagination{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only runs of this source")
	cmd.Flags().StringVar(&mode, "mode", "", "only full or incremental runs")
	cmd.Flags().StringVar(&status, "status", "", "only runs in this status (in_progress, success, failed)")
	cmd.Flags().DurationVar(&since, "since", 0, "only runs started within this window, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newTestConnectionCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection <source>",
		Short: "Check that a source's provider accepts our credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, connect, func(ctx context.Context, c syncClient) error {
				ok, err := c.TestConnection(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("connection to %s failed", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
				return nil
			})
		},
	}
}
