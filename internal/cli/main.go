// Package cli exposes the chatcut commands.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forPelevin/chatcut/internal/logging"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:          "chatcut",
		Short:        "Turn a long video into a short AI-curated summary through chat",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(verbose)
		},
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.PersistentFlags().StringVar(&configPath, "config", "chatcut.yaml", "Config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	newCmd := &cobra.Command{
		Use:   "new <video>",
		Short: "Create a conversation thread for a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd, configPath, args[0])
		},
	}

	sendCmd := &cobra.Command{
		Use:   "send <thread> <message>",
		Short: "Send a message to a thread and run the pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			edit, _ := cmd.Flags().GetBool("edit")
			return runSend(cmd, configPath, args[0], args[1], edit)
		},
	}
	sendCmd.Flags().Bool("edit", false, "Edit the thread's latest generated timeline instead of building a new one")

	listCmd := &cobra.Command{
		Use:   "threads",
		Short: "List threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, configPath)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <thread>",
		Short: "Delete a thread and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, configPath, args[0])
		},
	}

	root.AddCommand(newCmd, sendCmd, listCmd, deleteCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
