package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/teamtrace/fieldsync/internal/ui"
)

var connectCmd = &cobra.Command{
	Use:     "connect <team-id>",
	GroupID: "sync",
	Short:   "Store a mirror credential for a team",
	Long: `Store the external-drive access token used to mirror a team.

The token is obtained from the TeamTrace console and entered interactively
(or passed via --token for scripted setups). It is kept in an owner-only
file under the data directory.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		teamID := args[0]
		token, _ := cmd.Flags().GetString("token")

		if token == "" {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title(fmt.Sprintf("Mirror access token for team %s", teamID)).
					Description("Paste the token from the TeamTrace console").
					EchoMode(huh.EchoModePassword).
					Value(&token).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("token cannot be empty")
						}
						return nil
					}),
			))
			if err := form.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := tokenProvider().SetToken(teamID, strings.TrimSpace(token)); err != nil {
			fmt.Fprintf(os.Stderr, "Error storing token: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Team %s connected\n", ui.RenderPass("✓"), teamID)
		fmt.Printf("   %s\n", ui.RenderMuted("Run 'fieldsync mirror "+teamID+"' to start a sweep"))
	},
}

var disconnectCmd = &cobra.Command{
	Use:     "disconnect <team-id>",
	GroupID: "sync",
	Short:   "Remove a team's mirror credential",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		teamID := args[0]

		if err := tokenProvider().DeleteToken(teamID); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing token: %v\n", err)
			os.Exit(1)
		}

		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		// Forget mirror bookkeeping so a reconnect starts from scratch.
		if err := st.DeleteState(cmd.Context(), teamID); err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing sync state: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Team %s disconnected\n", ui.RenderPass("✓"), teamID)
	},
}

func init() {
	connectCmd.Flags().String("token", "", "mirror access token (skips the prompt)")
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}
