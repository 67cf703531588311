package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teamtrace/fieldsync/internal/docgen"
	"github.com/teamtrace/fieldsync/internal/mirror"
	"github.com/teamtrace/fieldsync/internal/ui"
)

var mirrorCmd = &cobra.Command{
	Use:     "mirror <team-id>",
	GroupID: "sync",
	Short:   "Mirror a team's projects to the external drive folder",
	Long: `Sweep every project of a team into the external store: media files,
per-task metadata documents, and project summary documents, organized as
root / team / group / project folders.

Projects whose content is unchanged since the last completed pass are
skipped. The sweep requires a stored mirror credential; run
'fieldsync connect <team-id>' first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		teamID := args[0]

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

		engine := mirror.New(st, client, client, client, tokenProvider(), docgen.New(), &mirror.Config{
			RootFolder: viper.GetString("root_folder"),
			Logger:     log.New(os.Stderr, "[mirror] ", log.LstdFlags),
			OnProgress: func(p mirror.Progress) {
				fmt.Printf("\r   [%d/%d] %-60s", p.Current, p.Total, p.Message)
			},
		})

		fmt.Printf("%s Mirroring team %s...\n", ui.RenderAccent("→"), teamID)
		start := time.Now()

		ok, err := engine.SyncTeam(context.Background(), teamID)
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Mirror sweep failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		if ok {
			fmt.Printf("%s Mirror sweep complete in %v\n", ui.RenderPass("✓"), elapsed)
		} else {
			fmt.Printf("%s Mirror sweep finished with no successful projects (%v)\n",
				ui.RenderWarn("⚠"), elapsed)
		}
	},
}

func init() {
	rootCmd.AddCommand(mirrorCmd)
}
