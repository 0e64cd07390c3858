package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sdetpro/tcgen/internal/api"
	"github.com/sdetpro/tcgen/internal/auth"
	"github.com/sdetpro/tcgen/internal/intake"
	"github.com/sdetpro/tcgen/internal/output"
	"github.com/sdetpro/tcgen/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	credStore *auth.Store
	apiClient *api.Client
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tcgen",
	Short: "Test-case generation assistant client",
	Long: `tcgen generates test cases for JIRA issues through the remote
generation service. Attach screenshots for OCR context, run a prelight
cost estimate, then generate and save the resulting test cases.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tcgen/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "tcgen")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TCGEN")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "tcgen")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "tcgen.db"))
	viper.SetDefault("api.base_url", api.DefaultBaseURL)
	viper.SetDefault("upload.max_images", intake.DefaultMaxImages)
	viper.SetDefault("upload.max_image_bytes", intake.DefaultMaxImageBytes)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// Credentials and store are initialized lazily, only when commands
	// actually need them. This allows config/version to run without either.
}

// getCreds returns the shared credential store, initializing it on first call.
func getCreds() (*auth.Store, error) {
	if credStore != nil {
		return credStore, nil
	}
	s, err := auth.NewStore(viper.GetString("state_dir"))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	credStore = s
	return credStore, nil
}

// getClient returns the shared API client, initializing it on first call.
func getClient() (*api.Client, error) {
	if apiClient != nil {
		return apiClient, nil
	}
	creds, err := getCreds()
	if err != nil {
		return nil, err
	}
	apiClient = api.NewClient(viper.GetString("api.base_url"), creds)
	return apiClient, nil
}

// getStore returns the shared history store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// intakeConfig builds the image limits from configuration.
func intakeConfig() intake.Config {
	return intake.Config{
		MaxImages:     viper.GetInt("upload.max_images"),
		MaxImageBytes: viper.GetInt64("upload.max_image_bytes"),
	}
}
