package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/reconscan/reconscan/internal/shell"
)

var shellServerAddr string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "interactively drive a running reconscan server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := shell.NewClient(shellServerAddr)
		repl := shell.NewREPL(client, os.Stdin, os.Stdout)
		return repl.Run(context.Background())
	},
}

func init() {
	shellCmd.Flags().StringVar(&shellServerAddr, "server", "http://localhost:8001", "reconscan server base URL")
}
