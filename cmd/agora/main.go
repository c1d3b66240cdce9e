// Command agora runs the multi-agent framework: a long-lived server, a
// one-shot task dispatch, or an interactive chat with a single agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/agora"
	"github.com/aixgo-dev/agora/orchestrator"
	"github.com/aixgo-dev/agora/pkg/config"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "agora",
		Short:         "A lightweight multi-agent framework",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newChatCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket server and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Printf("Starting agora v%s", Version)
			return agora.Run(*configPath)
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var task string
	var strategy string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch a single task and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if task == "" {
				return fmt.Errorf("a task is required (use --task)")
			}

			sys, err := buildSystem(*configPath)
			if err != nil {
				return err
			}
			defer sys.Close()

			result, err := sys.Orchestrator().Run(cmd.Context(), task, orchestrator.Strategy(strategy))
			if err != nil {
				return err
			}

			if len(result.Outputs) > 0 {
				for name, out := range result.Outputs {
					fmt.Printf("%s: %s\n", name, out)
				}
				return nil
			}
			if result.Agent == "" {
				fmt.Println("No agent available for the task.")
				return nil
			}
			fmt.Printf("%s: %s\n", result.Agent, result.Output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&task, "task", "d", "", "task description")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "auto", "dispatch strategy (auto, round_robin, broadcast)")
	return cmd
}

func newChatCmd(configPath *string) *cobra.Command {
	var agentName string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with one agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := buildSystem(*configPath)
			if err != nil {
				return err
			}
			defer sys.Close()

			name := agentName
			if name == "" {
				names := sys.Orchestrator().Agents()
				if len(names) == 0 {
					return fmt.Errorf("no agents configured")
				}
				name = names[0]
			}
			a, ok := sys.Orchestrator().Agent(name)
			if !ok {
				return fmt.Errorf("agent %q not found", name)
			}

			return chatLoop(cmd.Context(), a.Name(), func(ctx context.Context, input string) (string, error) {
				return a.ExecuteTask(ctx, input)
			})
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "agent to chat with (default: first configured)")
	return cmd
}

// chatLoop reads lines until EOF, Ctrl+C, or an exit command, feeding each
// to ask and printing the reply.
func chatLoop(ctx context.Context, name string, ask func(context.Context, string) (string, error)) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("Chatting with %s. Type 'exit' or press Ctrl+C to leave.\n", name)
	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			if err == liner.ErrPromptAborted || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		line.AppendHistory(input)

		reply, err := ask(ctx, input)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Printf("%s> %s\n", name, reply)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agora v%s\n", Version)
		},
	}
}

func buildSystem(configPath string) (*agora.System, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return agora.BuildSystem(cfg)
}
