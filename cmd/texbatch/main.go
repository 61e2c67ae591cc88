package main

import (
	"os"

	"github.com/kubev2v/texbatch/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	command := NewTexbatchCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewTexbatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "texbatch [flags] [options]",
		Short: "texbatch edits LaTeX files in bulk through an LLM batch service.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdProcess())
	cmd.AddCommand(cli.NewCmdStatus())
	cmd.AddCommand(cli.NewCmdFetch())
	cmd.AddCommand(cli.NewCmdGet())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
