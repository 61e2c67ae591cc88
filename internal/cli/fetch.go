package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type FetchOptions struct {
	GlobalOptions
}

func DefaultFetchOptions() *FetchOptions {
	return &FetchOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdFetch() *cobra.Command {
	o := DefaultFetchOptions()
	cmd := &cobra.Command{
		Use:   "fetch BATCH_ID",
		Short: "Wait for a previously submitted batch job and write its results back.",
		Long: "Resumes a run recorded by process, for instance after it was interrupted while " +
			"waiting. Only the files submitted with that run are written. Relative paths are " +
			"resolved against the directory process was run from, whatever the current one.",
		Args: cobra.ExactArgs(1),
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

func (o *FetchOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
}

func (o *FetchOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *FetchOptions) Validate(args []string) error {
	if err := o.GlobalOptions.validateRemote(args); err != nil {
		return err
	}
	return validateBatchID(args[0])
}

func (o *FetchOptions) Run(ctx context.Context, args []string) error {
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

	summary, err := p.Resume(ctx, args[0])
	if err != nil {
		return err
	}
	printSummary(summary)
	return nil
}
