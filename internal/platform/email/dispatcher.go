package email

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/platform/config"
)

type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	ErrQueueFull = errors.New("email: queue full")
	ErrStopped   = errors.New("email: dispatcher stopped")
)

// Dispatcher delivers messages in the background with bounded retries.
// Delivery is fire-and-forget: Enqueue never blocks on the transport.
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	workers int
	retries int
	backoff time.Duration
	log     zerolog.Logger

	mu       sync.RWMutex
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func NewDispatcher(sender Sender, cfg config.EmailConfig) *Dispatcher {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	retries := cfg.RetryAttempts
	if retries <= 0 {
		retries = 1
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Message, size),
		workers: workers,
		retries: retries,
		backoff: cfg.RetryBackoff,
		log:     logger.Component("email"),
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

// Stop rejects further messages, drains the queue and waits for the
// workers to exit. The queue channel is never closed, so late producers get
// ErrStopped instead of a panic.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.done)
	})
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.log.Warn().Str("to", msg.To).Msg("Email dispatcher stopped, dropping message")
		return ErrStopped
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.log.Warn().Str("to", msg.To).Msg("Email queue full, dropping message")
		return ErrQueueFull
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		case <-d.done:
			// Nothing is enqueued after done closes.
			for {
				select {
				case msg := <-d.queue:
					d.deliver(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	var err error
	for attempt := 1; attempt <= d.retries; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = d.sender.Send(sendCtx, msg)
		cancel()
		if err == nil {
			d.log.Debug().Str("to", msg.To).Int("attempt", attempt).Msg("Email sent")
			return
		}
		d.log.Warn().Err(err).Str("to", msg.To).Int("attempt", attempt).Msg("Email delivery failed")
		if attempt < d.retries && d.backoff > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}
	}
	d.log.Error().Err(err).Str("to", msg.To).Msg("Giving up on email")
}
