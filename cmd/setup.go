package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/sploitprobe/pkg/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := &wizard{in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
		w.say("Welcome to the sploitprobe setup wizard")
		w.say("---------------------------------------")

		// 1. Provider
		w.say("Step 1: Choose your AI Provider")
		w.say("1. Gemini (Google)")
		w.say("2. OpenAI (or a compatible server)")
		w.say("3. Anthropic")
		var provider string
		switch strings.ToLower(w.ask("Enter number or name")) {
		case "1", "gemini":
			provider = "gemini"
		case "2", "openai":
			provider = "openai"
		case "3", "anthropic":
			provider = "anthropic"
		default:
			return fmt.Errorf("invalid provider choice")
		}

		// 2. Key and endpoint
		w.say("\nStep 2: Enter API Key for %s", provider)
		apiKey := w.ask("")
		if apiKey == "" {
			return fmt.Errorf("API key cannot be empty")
		}
		var baseURL string
		if provider != "gemini" {
			w.say("Optional: API base URL (leave empty for the default)")
			baseURL = w.ask("")
		}

		// 3. Model
		w.say("\nStep 3: Validating key and fetching available models...")
		model, err := w.chooseModel(cmd, provider, apiKey, baseURL)
		if err != nil {
			return err
		}

		// 4. Lambda execution role
		w.say("\nStep 4: IAM role ARN for deployed probes (leave empty to set later)")
		role := w.ask("")

		// 5. Save
		w.say("\nStep 5: Saving Configuration...")
		var saved config.Config
		err = updateConfig(func(cfg *config.Config) {
			cfg.SelectedProvider = provider
			cfg.SelectedModel = model
			cfg.SetAPIKey(provider, apiKey)
			if baseURL != "" {
				p := cfg.Providers[provider]
				p.BaseURL = baseURL
				cfg.Providers[provider] = p
			}
			if role != "" {
				cfg.Lambda.Role = role
			}
			saved = *cfg
		})
		if err != nil {
			return err
		}

		w.say("---------------------------------------")
		w.say("Setup Complete!")
		w.say("Provider: %s", provider)
		w.say("Model:    %s", model)
		if saved.Lambda.Role == "" {
			w.say("Set lambda.role (or SPLOITPROBE_LAMBDA_ROLE) before running 'sploitprobe run'")
		} else {
			w.say("You can now run 'sploitprobe run'")
		}
		return nil
	},
}

type wizard struct {
	in  *bufio.Scanner
	out io.Writer
}

func (w *wizard) say(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// ask prints an optional label and returns the trimmed next line.
func (w *wizard) ask(label string) string {
	if label != "" {
		fmt.Fprintf(w.out, "%s > ", label)
	} else {
		fmt.Fprint(w.out, "> ")
	}
	w.in.Scan()
	return strings.TrimSpace(w.in.Text())
}

// chooseModel lists the provider's models for selection and falls back to
// manual entry when listing fails.
func (w *wizard) chooseModel(cmd *cobra.Command, provider, apiKey, baseURL string) (string, error) {
	models, err := listModels(cmd.Context(), provider, apiKey, baseURL)
	if err == nil && len(models) == 0 {
		err = fmt.Errorf("provider returned no models")
	}
	if err != nil {
		w.say("Warning: Could not fetch models from API: %v", err)
		w.say("Please enter model name manually (e.g., 'gemini-1.5-pro', 'gpt-4o'):")
		model := w.ask("")
		if model == "" {
			return "", fmt.Errorf("model name cannot be empty")
		}
		return model, nil
	}

	w.say("Successfully retrieved %d models.", len(models))
	for i, m := range models {
		w.say("%d. %s", i+1, m)
	}
	idx, err := strconv.Atoi(w.ask("Select Model (number)"))
	if err != nil || idx < 1 || idx > len(models) {
		w.say("Invalid selection. Using first available model.")
		return models[0], nil
	}
	return models[idx-1], nil
}

func init() {
	configCmd.AddCommand(setupCmd)
}
