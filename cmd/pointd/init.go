package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jdelhommeau/pointd/internal/config"
	"github.com/jdelhommeau/pointd/internal/credentials"
	"github.com/jdelhommeau/pointd/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "core",
	Short:   "Interactive first-time setup",
	Long: `Walk through first-time setup.

Prompts for the backend server, API token and queue location, then
writes the config file, saves the token with owner-only permissions
and creates the queue database.

Example usage:
  pointd init
  pointd init --force
  pointd --config ./dev.toml init`,
	Run: runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")

	cfgPath := cfgFile
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if _, err := os.Stat(cfgPath); err == nil && !force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", cfgPath)
		os.Exit(1)
	}

	homeDir, err := config.DefaultDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var (
		serverURL  string
		probeURL   string
		token      string
		employeeID string
		dbPath     = filepath.Join(homeDir, "pointd.db")
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend server URL").
				Placeholder("https://punch.example.com").
				Value(&serverURL).
				Validate(validateHTTPURL),
			huh.NewInput().
				Title("Connectivity probe URL").
				Description("Blank probes <server>/health").
				Value(&probeURL).
				Validate(validateOptionalHTTPURL),
			huh.NewInput().
				Title("API token").
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("token is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Employee ID").
				Description("Optional, recorded in the credentials file").
				Value(&employeeID),
			huh.NewInput().
				Title("Queue database path").
				Value(&dbPath),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Println("Cancelled")
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	cfg.ProbeURL = strings.TrimSpace(probeURL)
	cfg.DBPath = strings.TrimSpace(dbPath)

	if err := config.Write(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), cfgPath)

	credsPath := resolveCredentialsPath(cfg)
	creds := &credentials.Credentials{
		Token:      strings.TrimSpace(token),
		EmployeeID: strings.TrimSpace(employeeID),
	}
	if err := credentials.NewFile(credsPath).Save(creds); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving credentials: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s Saved credentials to %s\n", ui.RenderPass("✓"), credsPath)

	store := openStore(cfg)
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing queue database: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s Created queue database at %s\n", ui.RenderPass("✓"), cfg.DBPath)

	fmt.Printf("\n%s pointd is ready. Start the daemon with 'pointd daemon'.\n", ui.RenderAccent("🚀"))
}

func validateHTTPURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("server URL is required")
	}
	return checkHTTPURL(s)
}

func validateOptionalHTTPURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return checkHTTPURL(s)
}

func checkHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("URL needs a host")
	}
	return nil
}
