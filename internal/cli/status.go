package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type StatusOptions struct {
	GlobalOptions
}

func DefaultStatusOptions() *StatusOptions {
	return &StatusOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdStatus() *cobra.Command {
	o := DefaultStatusOptions()
	cmd := &cobra.Command{
		Use:   "status BATCH_ID",
		Short: "Print the current status of a batch job.",
		Args:  cobra.ExactArgs(1),
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

func (o *StatusOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
}

func (o *StatusOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *StatusOptions) Validate(args []string) error {
	if err := o.GlobalOptions.validateRemote(args); err != nil {
		return err
	}
	return validateBatchID(args[0])
}

func (o *StatusOptions) Run(ctx context.Context, args []string) error {
	restore := o.initLogger()
	defer restore()

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

	status, err := p.Status(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Batch %s status: %s\n", args[0], status)
	return nil
}
