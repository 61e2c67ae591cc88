package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kubev2v/texbatch/internal/store"
	"github.com/kubev2v/texbatch/internal/store/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
	legalRunStatuses = []string{
		model.RunStatusCreated,
		model.RunStatusUploaded,
		model.RunStatusSubmitted,
		model.RunStatusMaterialized,
		model.RunStatusFailed,
	}
)

type GetOptions struct {
	GlobalOptions

	Output  string
	Status  []string
	BatchID string
	Limit   int
}

func DefaultGetOptions() *GetOptions {
	return &GetOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdGet() *cobra.Command {
	o := DefaultGetOptions()
	cmd := &cobra.Command{
		Use:   "get (TYPE | TYPE/ID)",
		Short: "Display one or many runs recorded in the local ledger.",
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

func (o *GetOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
	fs.StringSliceVar(&o.Status, "status", o.Status, fmt.Sprintf("Only list runs in these states (%s).", strings.Join(legalRunStatuses, ", ")))
	fs.StringVar(&o.BatchID, "batch-id", o.BatchID, "Only list runs submitted as this batch.")
	fs.IntVar(&o.Limit, "limit", o.Limit, "Maximum number of runs to list. 0 lists all.")
}

func (o *GetOptions) Complete(cmd *cobra.Command, args []string) error {
	return o.GlobalOptions.Complete(cmd, args)
}

func (o *GetOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	return o.validateFlags(args)
}

func (o *GetOptions) validateFlags(args []string) error {
	_, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("invalid run id %q: %w", id, err)
		}
	}

	if len(o.Output) > 0 && !funk.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	for _, s := range o.Status {
		if !funk.ContainsString(legalRunStatuses, s) {
			return fmt.Errorf("status must be one of %s", strings.Join(legalRunStatuses, ", "))
		}
	}
	if o.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

func (o *GetOptions) Run(ctx context.Context, args []string) error {
	restore := o.initLogger()
	defer restore()

	s, err := o.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	kind, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}

	var response any
	if id != "" {
		run, err := s.Run().Get(ctx, uuid.MustParse(id))
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return fmt.Errorf("reading %s/%s: not found", kind, id)
			}
			return fmt.Errorf("reading %s/%s: %w", kind, id, err)
		}
		response = run
	} else {
		filter := store.NewRunQueryFilter()
		if len(o.Status) > 0 {
			filter = filter.ByStatus(o.Status...)
		}
		if o.BatchID != "" {
			filter = filter.ByBatchID(o.BatchID)
		}
		runs, err := s.Run().List(ctx, filter, store.NewRunQueryOptions().WithSortOrder(store.SortByCreatedTime).WithLimit(o.Limit).WithTasks())
		if err != nil {
			return fmt.Errorf("listing %s: %w", plural(kind), err)
		}
		response = runs
	}

	return printResponse(os.Stdout, response, o.Output)
}

func printResponse(out io.Writer, response any, output string) error {
	switch output {
	case jsonFormat:
		marshalled, err := json.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshalling resource: %w", err)
		}
		fmt.Fprintf(out, "%s\n", string(marshalled))
		return nil
	case yamlFormat:
		marshalled, err := yaml.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshalling resource: %w", err)
		}
		fmt.Fprintf(out, "%s\n", string(marshalled))
		return nil
	default:
		return printTable(out, response)
	}
}

func printTable(out io.Writer, response any) error {
	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)
	switch r := response.(type) {
	case model.RunList:
		printRunsTable(w, r...)
	case *model.Run:
		printRunsTable(w, *r)
	default:
		return fmt.Errorf("unknown resource type %T", response)
	}
	return w.Flush()
}

func printRunsTable(w *tabwriter.Writer, runs ...model.Run) {
	fmt.Fprintln(w, "ID\tBATCH\tSTATUS\tJOB STATUS\tTASKS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.BatchID, r.Status, r.JobStatus, len(r.Tasks), r.CreatedAt.Format(time.RFC3339))
	}
}
