package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/store"
)

// ChangeDispatcher delivers a change event to the budget aggregator, either
// directly or through a broker.
type ChangeDispatcher interface {
	Dispatch(ctx context.Context, ev core.ChangeEvent) error
}

// ChangeDispatcherFunc adapts a function to ChangeDispatcher.
type ChangeDispatcherFunc func(ctx context.Context, ev core.ChangeEvent) error

func (f ChangeDispatcherFunc) Dispatch(ctx context.Context, ev core.ChangeEvent) error {
	return f(ctx, ev)
}

// OutboxProcessorConfig holds configuration for the outbox processor
type OutboxProcessorConfig struct {
	// PollInterval is how often to check for pending events (default: 5s)
	PollInterval time.Duration

	// BatchSize is the max number of events to relay per poll cycle (default: 50)
	BatchSize int

	// MaxAttempts is how many failed relays park an event (default: 5)
	MaxAttempts int
}

// DefaultOutboxProcessorConfig returns sensible defaults
func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		MaxAttempts:  5,
	}
}

// BatchResult counts the outcome of one relay pass.
type BatchResult struct {
	Relayed int `json:"relayed"`
	Failed  int `json:"failed"`
}

// OutboxProcessor relays committed change events to a dispatcher.
type OutboxProcessor struct {
	outbox     store.Outbox
	dispatcher ChangeDispatcher
	config     OutboxProcessorConfig
	logger     *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewOutboxProcessor creates a new outbox processor
func NewOutboxProcessor(outbox store.Outbox, dispatcher ChangeDispatcher, config OutboxProcessorConfig, logger *log.Logger) *OutboxProcessor {
	defaults := DefaultOutboxProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if logger == nil {
		logger = log.Default(log.ComponentOutbox)
	}
	return &OutboxProcessor{
		outbox:     outbox,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.WithComponent(log.ComponentOutbox),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("outbox processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Signal stop
	close(p.stopCh)

	// Wait for completion or context cancellation
	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Outbox processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Outbox processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *OutboxProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// runLoop is the main processing loop
func (p *OutboxProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	// Process immediately on startup
	p.processBatch(ctx, p.stopCh)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx, p.stopCh)
		}
	}
}

// ProcessOnce relays a single batch and reports what happened.
func (p *OutboxProcessor) ProcessOnce(ctx context.Context) (BatchResult, error) {
	return p.processBatch(ctx, nil)
}

// Drain relays batches until the outbox is empty or a batch relays nothing.
func (p *OutboxProcessor) Drain(ctx context.Context) (BatchResult, error) {
	var total BatchResult
	for {
		res, err := p.processBatch(ctx, nil)
		total.Relayed += res.Relayed
		total.Failed += res.Failed
		if err != nil || res.Relayed == 0 {
			return total, err
		}
	}
}

// processBatch relays a single batch of pending events
func (p *OutboxProcessor) processBatch(ctx context.Context, stopCh <-chan struct{}) (BatchResult, error) {
	var res BatchResult

	entries, err := p.outbox.DequeueChanges(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to dequeue outbox batch", log.FieldError, err)
		return res, fmt.Errorf("dequeue changes: %w", err)
	}

	if len(entries) == 0 {
		return res, nil
	}

	p.logger.DebugContext(ctx, "Relaying outbox batch", "count", len(entries))

	for _, entry := range entries {
		// Check if we should stop
		select {
		case <-stopCh:
			return res, nil
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		if err := p.dispatcher.Dispatch(ctx, entry.Event); err != nil {
			p.handleFailure(ctx, entry, err)
			res.Failed++
			continue
		}
		p.handleSuccess(ctx, entry)
		res.Relayed++
	}

	return res, nil
}

// handleSuccess marks an entry as relayed
func (p *OutboxProcessor) handleSuccess(ctx context.Context, entry core.OutboxEntry) {
	if err := p.outbox.MarkChangeDone(ctx, entry.ID); err != nil {
		// The event will be relayed again; consumers tolerate redelivery.
		p.logger.ErrorContext(ctx, "Failed to mark outbox entry done",
			log.FieldOutboxID, entry.ID, log.FieldError, err)
	}
}

// handleFailure records a failed relay attempt; the store parks the entry
// once it reaches MaxAttempts.
func (p *OutboxProcessor) handleFailure(ctx context.Context, entry core.OutboxEntry, relayErr error) {
	attempt := entry.Attempts + 1
	p.logger.WarnContext(ctx, "Outbox relay failed",
		log.FieldOutboxID, entry.ID,
		log.FieldTransactionID, entry.Event.TransactionID(),
		"attempt", attempt,
		log.FieldError, relayErr)

	if err := p.outbox.MarkChangeFailed(ctx, entry.ID, relayErr, p.config.MaxAttempts); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record outbox failure",
			log.FieldOutboxID, entry.ID, log.FieldError, err)
		return
	}

	if attempt >= p.config.MaxAttempts {
		p.logger.ErrorContext(ctx, "Outbox entry parked after max attempts",
			log.FieldOutboxID, entry.ID,
			"attempts", attempt)
	}
}
