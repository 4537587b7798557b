package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/id"
)

// QueueManager controls per-queue and per-actor rate limiting and
// concurrency. The pool calls Acquire before executing a claimed command
// and Release after execution completes.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the queue/actor
	// combination. Returns true if the command may proceed.
	Acquire(queue, actor string) bool
	// Release decrements the active count for the queue/actor pair.
	Release(queue, actor string)
}

// Pool manages a set of concurrent worker goroutines that claim eligible
// commands under a lease and execute them through the Executor. It also
// runs the housekeeping loops: heartbeating active leases, releasing due
// retries back to queued, and reclaiming commands whose lease expired.
type Pool struct {
	store        command.Store
	executor     *Executor
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Lease configuration.
	lease             time.Duration
	heartbeatInterval time.Duration
	reapInterval      time.Duration

	// Retry release configuration.
	retryInterval time.Duration
	retryBatch    int

	// Queue manager (optional).
	queueManager QueueManager

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will poll.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how often idle workers poll for new commands.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLease sets the execution lease duration claimed at dequeue and
// extended by each heartbeat.
func WithLease(d time.Duration) PoolOption {
	return func(p *Pool) { p.lease = d }
}

// WithHeartbeatInterval sets how often the pool extends leases for
// active commands. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithReapInterval sets how often the pool scans for commands whose
// lease expired and returns them to queued. A zero value disables
// reaping.
func WithReapInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.reapInterval = d }
}

// WithRetryInterval sets how often the pool releases retry_scheduled
// commands whose backoff has elapsed. A zero value disables the release
// loop.
func WithRetryInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.retryInterval = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(store command.Store, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:             store,
		executor:          executor,
		concurrency:       10,
		queues:            []string{"default"},
		pollInterval:      time.Second,
		lease:             30 * time.Second,
		heartbeatInterval: 10 * time.Second,
		reapInterval:      30 * time.Second,
		retryInterval:     time.Second,
		retryBatch:        100,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		stopCh:            make(chan struct{}),
		active:            make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.reapInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	if p.retryInterval > 0 {
		p.wg.Add(1)
		go p.retryLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context expires first, the contexts of in-flight commands are
// cancelled; their handlers observe context.Canceled, which classifies as
// cancelled and retries under the command's profile.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active commands")
		p.cancelActive()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		cmds, err := p.store.DequeueCommands(context.Background(), p.queues, p.workerID, 1, p.lease)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if len(cmds) == 0 {
			p.sleep()
			continue
		}

		c := cmds[0]

		// Check queue/actor rate limit and concurrency.
		if p.queueManager != nil && !p.queueManager.Acquire(c.Queue, c.Actor) {
			p.requeueRateLimited(c)
			p.sleep()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.track(c.ID.String(), cancel)

		if execErr := p.executor.Execute(ctx, c); execErr != nil {
			p.logger.Debug("command execution failed",
				slog.String("command_id", c.ID.String()),
				slog.String("command_type", c.Type),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrack(c.ID.String())
		cancel()

		if p.queueManager != nil {
			p.queueManager.Release(c.Queue, c.Actor)
		}
	}
}

// requeueRateLimited returns a claimed command to queued with a small
// delay so another poll picks it up once the limiter allows.
func (p *Pool) requeueRateLimited(c *command.Command) {
	if err := c.Transition(command.StatusQueued); err != nil {
		p.logger.Error("rate-limited command in unexpected status",
			slog.String("command_id", c.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	c.RunAt = time.Now().UTC().Add(p.pollInterval)
	c.WorkerID = id.WorkerID{}
	c.HeartbeatAt = nil

	if err := p.store.UpdateCommand(context.Background(), c); err != nil {
		p.logger.Error("failed to requeue rate-limited command",
			slog.String("command_id", c.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically extends the lease on all active commands.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	ids := make([]string, 0, len(p.active))
	for cmdID := range p.active {
		ids = append(ids, cmdID)
	}
	p.activeMu.Unlock()

	for _, raw := range ids {
		cmdID, parseErr := id.ParseCommandID(raw)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid command id", slog.String("command_id", raw))
			continue
		}
		if err := p.store.HeartbeatCommand(context.Background(), cmdID, p.workerID, p.lease); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("command_id", raw),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically reclaims commands whose lease expired.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

// reapExpired returns commands from crashed workers to queued. The store
// closes the attempt the dead worker left open when it reports the
// expired lease, so the next claim opens the next contiguous attempt.
func (p *Pool) reapExpired() {
	expired, err := p.store.ReapExpiredLeases(context.Background(), p.retryBatch)
	if err != nil {
		p.logger.Error("reap expired leases error", slog.String("error", err.Error()))
		return
	}

	for _, c := range expired {
		if trErr := c.Transition(command.StatusQueued); trErr != nil {
			p.logger.Error("reap: expired command in unexpected status",
				slog.String("command_id", c.ID.String()),
				slog.String("status", string(c.Status)),
				slog.String("error", trErr.Error()),
			)
			continue
		}
		c.RunAt = time.Now().UTC()
		c.WorkerID = id.WorkerID{}
		c.HeartbeatAt = nil
		c.StartedAt = nil

		if updateErr := p.store.UpdateCommand(context.Background(), c); updateErr != nil {
			p.logger.Error("reap: failed to requeue expired command",
				slog.String("command_id", c.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.logger.Info("reclaimed command from expired lease",
			slog.String("command_id", c.ID.String()),
			slog.String("command_type", c.Type),
		)
	}
}

// retryLoop periodically releases retry_scheduled commands whose backoff
// has elapsed.
func (p *Pool) retryLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			released, err := p.store.ReleaseDueRetries(context.Background(), p.retryBatch)
			if err != nil {
				p.logger.Error("release due retries error", slog.String("error", err.Error()))
				continue
			}
			if released > 0 {
				p.logger.Debug("released due retries", slog.Int("count", released))
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(cmdID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[cmdID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(cmdID string) {
	p.activeMu.Lock()
	delete(p.active, cmdID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for cmdID, cancel := range p.active {
		p.logger.Warn("cancelling active command", slog.String("command_id", cmdID))
		cancel()
	}
}
