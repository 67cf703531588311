package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/teamtrace/fieldsync/internal/docgen"
	"github.com/teamtrace/fieldsync/internal/mirror"
	"github.com/teamtrace/fieldsync/internal/reconcile"
	"github.com/teamtrace/fieldsync/internal/trigger"
	"github.com/teamtrace/fieldsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run the sync daemon (foreground)",
	Long: `Run the background sync daemon in foreground mode.

The daemon:
  1. Watches the staging directory for captured media
  2. Runs reconciliation after a debounced burst of captures
  3. Runs mirror sweeps for teams with remote changes
  4. Aborts in-flight mirror work when the network drops

Daemon activity is logged to a rotating file under the data directory.`,
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

		logSink := &lumberjack.Logger{
			Filename:   filepath.Join(dataDir(), "daemon.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		defer logSink.Close()

		reconciler := reconcile.New(st, client, client, &reconcile.Config{
			RetryCeiling: viper.GetInt("retry_ceiling"),
			Logger:       log.New(logSink, "[reconcile] ", log.LstdFlags),
		})
		mirrorer := mirror.New(st, client, client, client, tokenProvider(), docgen.New(), &mirror.Config{
			RootFolder: viper.GetString("root_folder"),
			Logger:     log.New(logSink, "[mirror] ", log.LstdFlags),
		})

		d, err := trigger.New(reconciler, mirrorer, stagingDir(), &trigger.Config{
			DebounceInterval: viper.GetDuration("debounce"),
			TickInterval:     trigger.DefaultConfig().TickInterval,
			Logger:           log.New(logSink, "[trigger] ", log.LstdFlags),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("→"))
		fmt.Printf("   Staging dir: %s\n", stagingDir())
		fmt.Printf("   Log: %s\n", logSink.Filename)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
