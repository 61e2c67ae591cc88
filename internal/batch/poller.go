package batch

import (
	"context"
	"time"

	"github.com/kubev2v/texbatch/pkg/metrics"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
)

// DefaultPollInterval is the pause between two status queries.
const DefaultPollInterval = 60 * time.Second

// StatusGetter queries the authoritative status of a remote job.
type StatusGetter interface {
	JobStatus(ctx context.Context, handle string) (Status, error)
}

// Waiter blocks between two status queries. It returns early with the
// context error when ctx is done.
type Waiter interface {
	Wait(ctx context.Context) error
}

// WaiterFunc adapts a function to the Waiter interface.
type WaiterFunc func(ctx context.Context) error

func (f WaiterFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// TickerWaiter waits for the next tick of a jittered ticker.
type TickerWaiter struct {
	ticker *jitterbug.Ticker
}

// NewTickerWaiter starts a ticker firing every interval, with a normally
// distributed jitter of stdev (zero for a fixed interval).
func NewTickerWaiter(interval, stdev time.Duration) *TickerWaiter {
	return &TickerWaiter{
		ticker: jitterbug.New(interval, &jitterbug.Norm{Stdev: stdev, Mean: 0}),
	}
}

func (t *TickerWaiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ticker.C:
		return nil
	}
}

func (t *TickerWaiter) Stop() {
	t.ticker.Stop()
}

// Poller drives a job to a terminal status.
type Poller struct {
	client   StatusGetter
	waiter   Waiter
	onChange func(Job)
}

type PollerOption func(p *Poller)

// WithStatusObserver registers fn to be called every time the observed
// status changes, including the first observation.
func WithStatusObserver(fn func(Job)) PollerOption {
	return func(p *Poller) {
		p.onChange = fn
	}
}

func NewPoller(client StatusGetter, waiter Waiter, opts ...PollerOption) *Poller {
	p := &Poller{client: client, waiter: waiter}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Wait polls the job until it reaches succeeded, completed or failed. Any
// other status keeps the loop going; there is no iteration limit and the
// only way out besides a terminal status is an error or ctx being done.
// A failed job yields a *JobFailedError.
func (p *Poller) Wait(ctx context.Context, handle string) (Job, error) {
	log := zap.S().Named("poller")
	job := Job{Handle: handle}

	for {
		status, err := p.client.JobStatus(ctx, handle)
		if err != nil {
			return job, err
		}
		metrics.IncreasePollRequestsMetric()

		if status != job.Status {
			job.Status = status
			log.Infof("Batch %s status: %s", handle, status)
			metrics.UpdateJobStatusMetric(status.String())
			if p.onChange != nil {
				p.onChange(job)
			}
		}

		if status.IsTerminal() {
			if status.IsSuccess() {
				log.Infof("Batch %s completed successfully", handle)
				return job, nil
			}
			return job, &JobFailedError{Handle: handle}
		}

		if err := p.waiter.Wait(ctx); err != nil {
			return job, err
		}
	}
}
