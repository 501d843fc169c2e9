package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"simctl/interfaces/go/client"
	"simctl/internal/infrastructure/config"
	obs "simctl/internal/infrastructure/observability"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simctl",
		Short: "Paced traffic simulation with identity rotation",
		Long: `simctl drives a long-running session of paced requests against one
target, rotating the device's network identity between iterations.

Run "simctl serve" on the host attached to the device, then control the
session with the other subcommands.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file (default $SIMCTL_CONFIG)")
	rootCmd.PersistentFlags().String("server", "", "Server base URL (default from config)")
	rootCmd.PersistentFlags().String("token", "", "API bearer token (default $SIMCTL_API_TOKEN)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newStartCmd(),
		newCommandCmd("pause", "Pause the running session"),
		newCommandCmd("resume", "Resume a paused session"),
		newCommandCmd("stop", "Stop the session and clear its saved state"),
		newCommandCmd("restore", "Restore the saved session"),
		newStatusCmd(),
		newHistoryCmd(),
		newSettingsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	server, _ := cmd.Flags().GetString("server")
	if server == "" {
		server = cfg.Server
	}
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.APIToken
	}
	c := client.New(server)
	c.Token = token
	c.HTTP.Timeout = 15 * time.Second
	return c, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := obs.Build()
			if jsonOutput(cmd) {
				return printJSON(b)
			}
			fmt.Printf("simctl %s (%s)", b.Version, b.Commit)
			if b.Date != "" {
				fmt.Printf(" built %s", b.Date)
			}
			fmt.Println()
			return nil
		},
	}
}
