package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
)

// ErrDrainTimeout is returned when the job ignores cancellation for longer
// than the drain timeout.
var ErrDrainTimeout = errors.New("drain timeout")

// LifecycleRunner runs one Job with a start banner and a bounded drain on
// Stop.
type LifecycleRunner struct {
	state    int32
	job      Job
	hooks    Hooks
	timeout  time.Duration
	banner   io.Writer
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	onceStop sync.Once
	stopErr  error
}

// NewLifecycleRunner wraps job. A nil banner writer skips the banner.
func NewLifecycleRunner(job Job, hooks Hooks, timeout time.Duration, banner io.Writer) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		state:   int32(StateNew),
		job:     job,
		hooks:   hooks,
		timeout: timeout,
		banner:  banner,
		done:    make(chan struct{}),
	}
}

// Run blocks until the job returns and reports its error.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errorsx.Newf(errorsx.ReasonSessionState, "runner: run in state %s", r.State())
	}
	if r.banner != nil {
		PrintBanner(r.banner)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	err := r.job(ctx)
	close(r.done)
	r.finish()
	return err
}

// Stop cancels the job and waits for it up to the drain timeout.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		r.finish()
		return nil
	}
	r.setState(StateDraining)
	cancel()
	select {
	case <-r.done:
	case <-time.After(r.timeout):
		r.stopErr = ErrDrainTimeout
		r.finish()
	}
	return r.stopErr
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) finish() {
	r.onceStop.Do(func() {
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
