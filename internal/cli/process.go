package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const defaultPromptFile = "prompt.txt"

type ProcessOptions struct {
	GlobalOptions

	PromptFile string
}

func DefaultProcessOptions() *ProcessOptions {
	return &ProcessOptions{
		GlobalOptions: DefaultGlobalOptions(),
		PromptFile:    defaultPromptFile,
	}
}

func NewCmdProcess() *cobra.Command {
	o := DefaultProcessOptions()
	cmd := &cobra.Command{
		Use:   "process [-p PROMPT_FILE] FILE...",
		Short: "Edit LaTeX files through a batch job and write the results back.",
		Long: "Submits one request per file to the batch service, waits for the job to finish and " +
			"replaces every file with its result. The original content is kept in FILE.orig; an " +
			"existing backup is never overwritten.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *ProcessOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.PromptFile, "prompt", "p", o.PromptFile, "Path of the file holding the editing instructions.")
}

func (o *ProcessOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *ProcessOptions) Validate(args []string) error {
	if err := o.GlobalOptions.validateRemote(args); err != nil {
		return err
	}
	if o.PromptFile == "" {
		return fmt.Errorf("prompt file must not be empty")
	}
	return nil
}

func (o *ProcessOptions) Run(ctx context.Context, args []string) error {
	restore := o.initLogger()
	defer restore()
	defer o.writeMetrics()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := o.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, stop, err := o.pipeline(s)
	if err != nil {
		return err
	}
	defer stop()

	summary, err := p.Run(ctx, o.PromptFile, args)
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}
