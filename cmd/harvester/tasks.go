package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wildfire-harvester/internal/earthengine"
)

// cancelWorkers bounds concurrent cancel requests.
const cancelWorkers = 10

// operationLister is the slice of the Earth Engine client the task commands use.
type operationLister interface {
	ListOperations(ctx context.Context, filter string) ([]earthengine.Operation, error)
	CancelOperation(ctx context.Context, name string) error
}

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage Earth Engine export tasks",
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Count project operations by state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := taskClient(cmd.Context())
			if err != nil {
				return err
			}
			return printTaskSummary(cmd.Context(), client, cmd.OutOrStdout())
		},
	}

	var dryRun bool
	cancel := &cobra.Command{
		Use:   "cancel-pending",
		Short: "Cancel every export still waiting to start",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, logger, err := taskClient(cmd.Context())
			if err != nil {
				return err
			}
			n, err := cancelPending(cmd.Context(), client, dryRun, logger)
			verb := "cancelled"
			if dryRun {
				verb = "would cancel"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d pending task(s)\n", verb, n)
			return err
		},
	}
	cancel.Flags().BoolVar(&dryRun, "dry-run", false, "list pending tasks without cancelling")

	cmd.AddCommand(summary, cancel)
	return cmd
}

func taskClient(ctx context.Context) (*earthengine.Client, *zap.Logger, error) {
	e, err := resolveEnv(ctx)
	if err != nil {
		return nil, nil, err
	}
	if e.cfg.EarthEngine.Project == "" {
		return nil, nil, errors.New("earthengine.project is required")
	}
	client, err := earthengine.NewDefault(ctx, e.cfg.EarthEngine, e.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init earth engine client: %w", err)
	}
	return client, e.logger, nil
}

func printTaskSummary(ctx context.Context, client operationLister, out io.Writer) error {
	ops, err := client.ListOperations(ctx, "")
	if err != nil {
		return err
	}
	counts := earthengine.CountByState(ops)
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(out, "%-12s %d\n", state, counts[state])
	}
	fmt.Fprintf(out, "%-12s %d\n", "TOTAL", len(ops))
	return nil
}

// cancelPending cancels PENDING operations and returns how many were (or,
// with dryRun, would be) cancelled. Individual failures are logged; the first
// one is returned after all requests finish.
func cancelPending(ctx context.Context, client operationLister, dryRun bool, logger *zap.Logger) (int, error) {
	ops, err := client.ListOperations(ctx, "")
	if err != nil {
		return 0, err
	}
	var pending []earthengine.Operation
	for _, op := range ops {
		if op.State == earthengine.StatePending {
			pending = append(pending, op)
		}
	}
	if dryRun {
		for _, op := range pending {
			logger.Info("pending task", zap.String("name", op.Name), zap.String("description", op.Description))
		}
		return len(pending), nil
	}

	var (
		g         errgroup.Group
		cancelled atomic.Int64
		firstErr  atomic.Pointer[error]
	)
	g.SetLimit(cancelWorkers)
	for _, op := range pending {
		g.Go(func() error {
			if err := client.CancelOperation(ctx, op.Name); err != nil {
				logger.Warn("cancel failed", zap.String("name", op.Name), zap.Error(err))
				firstErr.CompareAndSwap(nil, &err)
				return nil
			}
			cancelled.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	if p := firstErr.Load(); p != nil {
		return int(cancelled.Load()), fmt.Errorf("cancel pending tasks: %w", *p)
	}
	return int(cancelled.Load()), nil
}

var _ operationLister = (*earthengine.Client)(nil)
