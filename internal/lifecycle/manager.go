package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/keithlinneman/h5p-web/internal/health"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// DefaultShutdownTimeout bounds the shutdown routine when Options leaves it
// unset.
const DefaultShutdownTimeout = 10 * time.Second

type Options struct {
	Logger          log.Logger
	ShutdownTimeout time.Duration
	// DrainDelay keeps serving after readiness starts failing so load
	// balancers notice before listeners close. A second signal skips it.
	DrainDelay time.Duration
	// Signals overrides the termination signals.
	Signals       []os.Signal
	OnStateChange func(State)
}

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager is safe for concurrent use.
type Manager struct {
	ctx             context.Context
	logger          log.Logger
	shutdownTimeout time.Duration
	drainDelay      time.Duration
	signals         []os.Signal
	onState         func(State)

	state   atomic.Int32
	fail    chan error
	sigCh   chan os.Signal
	sigOnce sync.Once

	mu    sync.Mutex
	hooks []hook
	temp  *TempDir
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(opts.Signals) == 0 {
		opts.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT}
	}
	return &Manager{
		ctx:             context.Background(),
		logger:          opts.Logger.With("component", "lifecycle"),
		shutdownTimeout: opts.ShutdownTimeout,
		drainDelay:      opts.DrainDelay,
		signals:         opts.Signals,
		onState:         opts.OnStateChange,
		fail:            make(chan error, 1),
		sigCh:           make(chan os.Signal, 2),
	}
}

// listen starts capturing termination signals. Signals that arrive before
// Run are buffered and start shutdown as soon as Run is entered.
func (m *Manager) listen() {
	m.sigOnce.Do(func() { signal.Notify(m.sigCh, m.signals...) })
}

func (m *Manager) stopListening() {
	signal.Stop(m.sigCh)
}

// ReadyProbe passes only while the manager is Serving.
func (m *Manager) ReadyProbe() health.CheckFunc {
	return func(context.Context) error {
		if s := m.State(); s != Serving {
			return xerrors.Newf("lifecycle: state %s", s)
		}
		return nil
	}
}

// OnStop registers fn to run during shutdown. Hooks run in reverse
// registration order, like defers.
func (m *Manager) OnStop(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Fail starts shutdown because of err. Only the first report is kept.
func (m *Manager) Fail(err error) {
	if err == nil {
		err = xerrors.New("lifecycle: unspecified failure")
	}
	select {
	case m.fail <- err:
	default:
	}
}

// Run advances to Serving and blocks until a termination source fires, then
// runs the shutdown routine once. The returned error is the Fail cause or a
// shutdown error; a signal or cancelled ctx alone returns nil.
func (m *Manager) Run(ctx context.Context) error {
	m.listen()
	defer m.stopListening()
	sigCh := m.sigCh

	if m.State() < Serving {
		if err := m.Advance(Serving); err != nil {
			return err
		}
	}

	var cause error
	select {
	case sig := <-sigCh:
		m.logger.Info(m.ctx, "shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		m.logger.Info(m.ctx, "context cancelled, shutting down", "cause", context.Cause(ctx))
	case err := <-m.fail:
		m.logger.Error(m.ctx, err, "fatal error, shutting down")
		cause = err
	}

	if err := m.Advance(Terminating); err != nil {
		return errors.Join(cause, err)
	}

	if m.drainDelay > 0 {
		m.logger.Info(m.ctx, "draining before shutdown", "delay", m.drainDelay.String())
		select {
		case <-time.After(m.drainDelay):
		case <-sigCh:
			m.logger.Warn(m.ctx, "second signal received, skipping drain")
		}
	}

	return errors.Join(cause, m.shutdown())
}

// shutdown runs the hooks then the temp cleanup. It returns once both
// finished or the timeout expired, whichever comes first.
func (m *Manager) shutdown() error {
	ctx, cancel := context.WithTimeout(m.ctx, m.shutdownTimeout)
	defer cancel()

	m.mu.Lock()
	hooks := append([]hook(nil), m.hooks...)
	temp := m.temp
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				m.logger.Error(ctx, err, "stop hook failed", "hook", h.name)
				errs = append(errs, xerrors.Wrapf(err, "stop %s", h.name))
			}
		}
		if temp != nil {
			if err := temp.Cleanup(); err != nil {
				m.logger.Error(ctx, err, "temp dir cleanup failed", "path", temp.Path())
				errs = append(errs, err)
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		m.logger.Info(m.ctx, "shutdown complete")
		return err
	case <-ctx.Done():
		m.logger.Warn(m.ctx, "shutdown timed out, exiting without waiting for cleanup", "timeout", m.shutdownTimeout.String())
		return xerrors.Wrap(ctx.Err(), "shutdown")
	}
}
