package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teamtrace/fieldsync/internal/reconcile"
	"github.com/teamtrace/fieldsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [project-id]",
	GroupID: "sync",
	Short:   "Reconcile queued edits into the remote store",
	Long: `Run the reconciliation engine: upload referenced media, merge queued
edits into their projects, and replace each project's task list remotely.

Without arguments every project with pending edits is reconciled; with a
project id only that project's queue is processed.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		client, err := buildClient()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		engine := reconcile.New(st, client, client, &reconcile.Config{
			RetryCeiling: viper.GetInt("retry_ceiling"),
			Logger:       log.New(os.Stderr, "[reconcile] ", log.LstdFlags),
		})

		fmt.Printf("%s Reconciling queued edits...\n", ui.RenderAccent("→"))
		start := time.Now()

		ctx := context.Background()
		var result reconcile.Result
		if len(args) == 1 {
			result, err = engine.SyncProject(ctx, args[0])
		} else {
			result, err = engine.SyncAll(ctx)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Reconciliation failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		fmt.Printf("%s Reconciliation complete in %v\n", ui.RenderPass("✓"), elapsed)
		fmt.Printf("   Merged: %d\n", result.Merged)
		if result.Retained > 0 {
			fmt.Printf("   %s\n", ui.RenderWarn(fmt.Sprintf("Retained for retry: %d", result.Retained)))
		}
		if result.Dropped > 0 {
			fmt.Printf("   %s\n", ui.RenderError(fmt.Sprintf("Dropped (edits lost): %d", result.Dropped)))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
