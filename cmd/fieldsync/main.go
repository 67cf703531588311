// Command fieldsync manages the offline edit queue and cloud mirror for
// TeamTrace field data.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teamtrace/fieldsync/internal/remote"
	"github.com/teamtrace/fieldsync/internal/remote/httpremote"
	"github.com/teamtrace/fieldsync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first sync engine for TeamTrace field data",
	Long: `fieldsync keeps locally captured task edits durable while offline,
reconciles them into the remote project store when connectivity returns,
and mirrors project content into a browsable external drive folder.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.fieldsync.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory (default ~/.fieldsync)")
	_ = viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	rootCmd.AddGroup(
		&cobra.Group{ID: "queue", Title: "Local queue:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	viper.SetDefault("base_url", "https://api.teamtrace.example")
	viper.SetDefault("root_folder", "TeamTrace")
	viper.SetDefault("retry_ceiling", 3)
	viper.SetDefault("debounce", "2s")
	viper.SetDefault("dashboard_port", 8119)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".fieldsync")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FIELDSYNC")
	viper.AutomaticEnv()

	// A missing config file is fine; defaults and env cover everything.
	_ = viper.ReadInConfig()
}

// dataDir returns the directory holding the database, staging area, and
// token file.
func dataDir() string {
	if dir := viper.GetString("data_dir"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fieldsync"
	}
	return filepath.Join(home, ".fieldsync")
}

func stagingDir() string {
	if dir := viper.GetString("staging_dir"); dir != "" {
		return dir
	}
	return filepath.Join(dataDir(), "staging")
}

func openStore() (*store.Store, error) {
	st, err := store.Open(filepath.Join(dataDir(), "fieldsync.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return st, nil
}

func buildClient() (*httpremote.Client, error) {
	client, err := httpremote.NewClient(viper.GetString("base_url"), viper.GetString("auth_token"))
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	return client, nil
}

func tokenProvider() *remote.FileTokenProvider {
	return remote.NewFileTokenProvider(filepath.Join(dataDir(), "tokens.json"))
}
