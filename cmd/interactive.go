package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/sploitprobe/pkg/adk"
	"github.com/user/sploitprobe/pkg/advisory"
	"github.com/user/sploitprobe/pkg/store"
	"github.com/user/sploitprobe/pkg/wrappers"
)

const interactivePrompt = `You are in an interactive research session. Answer the operator's questions
about exploits and advisories in plain prose. Use SearchExploits to look
things up and LookupAdvisory for advisories already collected. Do not write
probe code unless asked.`

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Chat with the agent about exploits and stored advisories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Log, os.Stderr)

		st, err := store.Open(cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		fmt.Printf("Connecting to %s (Model: %s)...\n", cfg.SelectedProvider, cfg.SelectedModel)
		llm, release, err := newLLM(ctx, cfg)
		if err != nil {
			return err
		}
		defer release()

		agent := adk.NewAgent(llm)
		agent.SetMaxSteps(cfg.Synthesis.MaxSteps)
		agent.RegisterTool(&wrappers.SearchExploitsWrapper{
			Client: advisory.NewSploitusClient(cfg.Sploitus.BaseURL, cfg.Sploitus.Timeout, log),
		})
		agent.RegisterTool(&wrappers.LookupAdvisoryWrapper{Store: st})
		agent.SetSystemPrompt(adk.SystemPrompt(interactivePrompt))

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("\n---------------------------------------------------------")
		fmt.Println("sploitprobe agent ready.")
		fmt.Println("Example: 'Find recent exploits for Confluence'")
		fmt.Println("Example: 'What do we know about advisory 1337DAY-ID-39012?'")
		fmt.Println("Type 'quit' or 'exit' to stop, 'reset' to clear the conversation.")
		fmt.Println("---------------------------------------------------------")

		for {
			fmt.Print("\n> ")
			if !scanner.Scan() {
				break
			}
			input := scanner.Text()
			switch input {
			case "quit", "exit":
				return nil
			case "reset":
				agent.Reset()
				fmt.Println("Conversation cleared.")
				continue
			case "":
				continue
			}

			fmt.Print("Agent thinking... ")
			resp, err := agent.Chat(ctx, input, func(msg string) {
				fmt.Printf("\r\033[K[Progress]: %s\nAgent thinking... ", msg)
			})
			fmt.Print("\r\033[K")

			if err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Printf("\n[Agent]: %s\n", resp)
			}
		}
		return scanner.Err()
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}
