package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/sploitprobe/pkg/adk"
	"github.com/user/sploitprobe/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration (providers, models, keys, Lambda role)",
}

var setKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the API key (and optional base URL) for a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		key, _ := cmd.Flags().GetString("key")
		baseURL, _ := cmd.Flags().GetString("base-url")

		provider = strings.ToLower(provider)
		if err := checkProvider(provider); err != nil {
			return err
		}
		if key == "" {
			return errors.New("--key is required")
		}

		return updateConfig(func(cfg *config.Config) {
			cfg.SetAPIKey(provider, key)
			if baseURL != "" {
				p := cfg.Providers[provider]
				p.BaseURL = baseURL
				cfg.Providers[provider] = p
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key saved for provider: %s\n", provider)
		})
	},
}

var setModelCmd = &cobra.Command{
	Use:   "set-model",
	Short: "Select the active provider and model",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")

		provider = strings.ToLower(provider)
		if provider != "" {
			if err := checkProvider(provider); err != nil {
				return err
			}
		}

		return updateConfig(func(cfg *config.Config) {
			if provider != "" {
				cfg.SelectedProvider = provider
			}
			if model != "" {
				cfg.SelectedModel = model
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active configuration updated: Provider=%s, Model=%s\n", cfg.SelectedProvider, cfg.SelectedModel)
		})
	},
}

var setRoleCmd = &cobra.Command{
	Use:   "set-role <role-arn>",
	Short: "Set the IAM role assumed by deployed probes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(func(cfg *config.Config) {
			cfg.Lambda.Role = args[0]
			fmt.Fprintf(cmd.OutOrStdout(), "Lambda role set to %s\n", args[0])
		})
	},
}

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List available models from the configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		provider := cfg.SelectedProvider
		apiKey := apiKeyFor(cfg, provider)
		if apiKey == "" {
			return fmt.Errorf("no API key found for %s; run 'sploitprobe config setup'", provider)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Fetching models for %s...\n", provider)
		models, err := listModels(cmd.Context(), provider, apiKey, cfg.GetBaseURL(provider))
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\nAvailable Models (%s):\n", provider)
		for _, m := range models {
			mark := " "
			if m == cfg.SelectedModel {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s\n", mark, m)
		}
		return nil
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.Path = configPath
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		config.MergeViper(cfg, vp)

		for name, p := range cfg.Providers {
			p.APIKey = mask(p.APIKey)
			cfg.Providers[name] = p
		}
		cfg.GitHub.Token = mask(cfg.GitHub.Token)

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nWarning: %v\n", err)
		}
		return nil
	},
}

// updateConfig loads the config file, applies fn and saves it back.
// Environment overrides are not written.
func updateConfig(fn func(cfg *config.Config)) error {
	config.Path = configPath
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	fn(cfg)
	if err := config.SaveConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func checkProvider(name string) error {
	if !slices.Contains(adk.Providers, name) {
		return fmt.Errorf("unknown provider %q (want one of %s)", name, strings.Join(adk.Providers, ", "))
	}
	return nil
}

// listModels builds a throwaway provider and asks it for its models.
func listModels(ctx context.Context, provider, apiKey, baseURL string) ([]string, error) {
	p, err := adk.NewProvider(ctx, provider, apiKey, "", baseURL)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", provider, err)
	}
	if c, ok := p.(io.Closer); ok {
		defer c.Close()
	}
	models, err := p.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func init() {
	setKeyCmd.Flags().StringP("provider", "p", "", "Provider ("+strings.Join(adk.Providers, ", ")+")")
	setKeyCmd.Flags().StringP("key", "k", "", "API Key")
	setKeyCmd.Flags().String("base-url", "", "API base URL for OpenAI or Anthropic compatible servers")

	setModelCmd.Flags().StringP("provider", "p", "", "Provider ("+strings.Join(adk.Providers, ", ")+")")
	setModelCmd.Flags().StringP("model", "m", "", "Model name")

	configCmd.AddCommand(setKeyCmd)
	configCmd.AddCommand(setModelCmd)
	configCmd.AddCommand(setRoleCmd)
	configCmd.AddCommand(listModelsCmd)
	configCmd.AddCommand(showConfigCmd)
	rootCmd.AddCommand(configCmd)
}
