package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sessionviewer/internal/backend"
	"sessionviewer/internal/config"
	"sessionviewer/internal/discovery"
)

var (
	jsonOutput    bool
	modelsAPIKey  string
	modelsBaseURL string
	modelsFilter  string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Locate the installed CLIs and their versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		installs := discovery.NewDetector(logger).DetectAll(cmd.Context())
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, installs)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CLI\tAVAILABLE\tVERSION\tPATH")
		for _, in := range installs {
			fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", in.CLI, in.Available, orDash(in.Version), orDash(in.Path))
		}
		return tw.Flush()
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models [claude|codex]",
	Short: "List the models a CLI accepts",
	Long: `Lists the built-in models for a CLI. For claude, models available to the
resolved API key are fetched and appended; a failed fetch falls back to the
built-in list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := selectedCLI()
		if len(args) == 1 {
			cli, err = backend.ParseCLIType(args[0])
		}
		if err != nil {
			return err
		}

		home, _ := os.UserHomeDir()
		client := discovery.NewRetryableClient(discovery.DefaultRetryConfig(), cfg.DiscoveryTimeout(), logger)
		lister := discovery.NewModelLister(client, func() discovery.Credentials {
			return discovery.LoadCredentials(home)
		}, logger)

		apiKey := modelsAPIKey
		if apiKey == "" {
			apiKey = cfg.Discovery.APIKey
		}
		baseURL := modelsBaseURL
		if baseURL == "" {
			baseURL = cfg.Discovery.BaseURL
		}
		models, err := lister.ListModels(cmd.Context(), cli, apiKey, baseURL)
		if err != nil {
			return err
		}
		models = discovery.FilterModels(models, modelsFilter)

		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, models)
		}
		groups, byGroup := discovery.GroupModels(models)
		for _, g := range groups {
			fmt.Fprintf(out, "%s\n", g)
			for _, m := range byGroup[g] {
				fmt.Fprintf(out, "  %-32s %s\n", m.ID, m.Name)
			}
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration and CLI credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		home, _ := os.UserHomeDir()
		cliConfig := discovery.ReadCLIConfig(home)
		if jsonOutput {
			return writeJSON(out, cliConfig)
		}
		fmt.Fprintf(out, "# %s\n%s\n", configPathOrDefault(), data)
		fmt.Fprintf(out, "# claude settings (%s)\n", cliConfig.ConfigPath)
		fmt.Fprintf(out, "api key:  %s\n", orDash(cliConfig.APIKeyMasked))
		fmt.Fprintf(out, "base url: %s\n", cliConfig.BaseURL)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{detectCmd, modelsCmd, configCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	}
	modelsCmd.Flags().StringVar(&modelsAPIKey, "api-key", "", "Anthropic API key (default: CLI settings, then ANTHROPIC_API_KEY)")
	modelsCmd.Flags().StringVar(&modelsBaseURL, "base-url", "", "API base URL (default: "+discovery.DefaultBaseURL+")")
	modelsCmd.Flags().StringVar(&modelsFilter, "filter", "", "Only models whose id, name or group contains this")
}

func configPathOrDefault() string {
	if configPath != "" {
		return configPath
	}
	return config.ConfigPath()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
