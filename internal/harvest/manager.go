package harvest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-lake/internal/logger"
	"github.com/blockedby/tg-lake/internal/models"
)

// Runner executes a harvest run. *Coordinator implements it.
type Runner interface {
	Run(ctx context.Context, opts Options) (*models.RunSummary, error)
}

// ActiveRun represents a run in progress
type ActiveRun struct {
	ID        uuid.UUID `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Options   Options   `json:"-"`
}

// RunManager runs harvests in the background,
// ensures only one run at a time,
// thread-safe
type RunManager struct {
	mu       sync.Mutex
	current  *ActiveRun
	cancelFn context.CancelFunc
	done     chan struct{}
	runner   Runner
	last     *models.RunSummary
	lastErr  error
	log      *logger.Logger
}

// NewRunManager creates a new run manager
func NewRunManager(runner Runner) *RunManager {
	return &RunManager{
		runner: runner,
		log:    logger.Get(),
	}
}

// Start starts a new run in the background
// returns ErrAlreadyRunning if a run is already active
func (m *RunManager) Start(_ context.Context, opts Options) (*ActiveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ErrAlreadyRunning
	}
	if len(opts.Channels) == 0 {
		return nil, ErrNoChannels
	}

	// the run outlives the request that started it
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel

	run := &ActiveRun{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Options:   opts,
	}
	m.current = run
	m.done = make(chan struct{})

	go m.run(runCtx, run, m.done)

	return run, nil
}

// Stop requests cooperative cancellation of the current run.
// The run keeps its slot until it has flushed and reported.
// safe to call when no run is active
func (m *RunManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelFn != nil {
		m.cancelFn()
	}
}

// Current returns the active run
// returns nil if idle
func (m *RunManager) Current() *ActiveRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Last returns the summary and error of the most recent finished run.
func (m *RunManager) Last() (*models.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.lastErr
}

// Wait blocks until the active run, if any, has finished.
func (m *RunManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run executes the harvest
// this is called in a goroutine
func (m *RunManager) run(ctx context.Context, run *ActiveRun, done chan struct{}) {
	var (
		summary *models.RunSummary
		err     error
	)

	defer func() {
		m.mu.Lock()
		if m.current != nil && m.current.ID == run.ID {
			m.current = nil
			if m.cancelFn != nil {
				m.cancelFn()
				m.cancelFn = nil
			}
		}
		if summary != nil {
			m.last = summary.Snapshot()
		}
		m.lastErr = err
		m.mu.Unlock()
		close(done)
	}()

	if m.runner == nil {
		return
	}
	summary, err = m.runner.Run(ctx, run.Options)
	if err != nil {
		m.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("harvest: background run failed")
	}
}
