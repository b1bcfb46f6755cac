// File: internal/bus/bus.go
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bulkperm/api/schemas"
)

// DefaultReplyTimeout bounds how long Request waits for a reply.
const DefaultReplyTimeout = 5 * time.Second

var (
	ErrShutdown     = errors.New("command bus is shut down")
	ErrNoHandler    = errors.New("no handler subscribed for command")
	ErrReplyTimeout = errors.New("timed out waiting for reply")
)

// Envelope carries one command to a subscriber along with the way back to its sender.
type Envelope struct {
	ID        string
	Timestamp time.Time
	Command   schemas.Command
	reply     chan schemas.Reply
}

// Reply answers the command. Only the first reply is delivered; later ones are dropped.
func (e Envelope) Reply(r schemas.Reply) {
	r.CorrelationID = e.Command.ID
	select {
	case e.reply <- r:
	default:
	}
}

// Bus carries RUN/STOP/STATUS commands from the panel to the controller and
// their replies back.
type Bus struct {
	logger       *zap.Logger
	replyTimeout time.Duration

	subscribers map[schemas.CommandType][]chan Envelope
	mu          sync.RWMutex
	bufferSize  int

	// processingWg tracks delivered envelopes until they are acknowledged.
	processingWg sync.WaitGroup
	// activePostsWg tracks in-flight Post calls.
	activePostsWg sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// New creates a bus. replyTimeout <= 0 selects DefaultReplyTimeout.
func New(logger *zap.Logger, bufferSize int, replyTimeout time.Duration) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	if replyTimeout <= 0 {
		replyTimeout = DefaultReplyTimeout
	}
	return &Bus{
		logger:       logger.Named("bus"),
		replyTimeout: replyTimeout,
		subscribers:  make(map[schemas.CommandType][]chan Envelope),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Request posts cmd and waits for the matching reply. A missing command id is
// filled with a fresh uuid.
func (b *Bus) Request(ctx context.Context, cmd schemas.Command) (schemas.Reply, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	reply := make(chan schemas.Reply, 1)
	if err := b.post(ctx, cmd, reply); err != nil {
		return schemas.Reply{}, err
	}

	timer := time.NewTimer(b.replyTimeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		if r.CorrelationID != cmd.ID {
			return schemas.Reply{}, fmt.Errorf("reply correlation mismatch: want %s, got %s", cmd.ID, r.CorrelationID)
		}
		return r, nil
	case <-ctx.Done():
		return schemas.Reply{}, ctx.Err()
	case <-timer.C:
		return schemas.Reply{}, fmt.Errorf("%w: %s %s after %v", ErrReplyTimeout, cmd.Type, cmd.ID, b.replyTimeout)
	case <-b.shutdownChan:
		return schemas.Reply{}, ErrShutdown
	}
}

// post delivers an envelope to the subscribers of cmd.Type. Blocks if their buffers are full.
func (b *Bus) post(ctx context.Context, cmd schemas.Command, reply chan schemas.Reply) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return ErrShutdown
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	env := Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Command:   cmd,
		reply:     reply,
	}

	if ce := b.logger.Check(zap.DebugLevel, "Posting command"); ce != nil {
		payload, _ := json.MarshalToString(cmd)
		ce.Write(zap.String("type", string(cmd.Type)), zap.String("id", cmd.ID), zap.String("payload", payload))
	}

	b.mu.RLock()
	subs := b.subscribers[cmd.Type]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNoHandler, cmd.Type)
	}
	subsCopy := make([]chan Envelope, len(subs))
	copy(subsCopy, subs)
	b.mu.RUnlock()

	for _, ch := range subsCopy {
		b.processingWg.Add(1)
		select {
		case ch <- env:
			// The consumer must call Acknowledge.
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return ErrShutdown
		}
	}
	return nil
}

// Subscribe returns a channel receiving envelopes for the given command types.
func (b *Bus) Subscribe(types ...schemas.CommandType) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Shutdown closes subscriber channels under mu; a channel registered here is never missed.
	b.shutdownMu.Lock()
	shut := b.isShutdown
	b.shutdownMu.Unlock()
	if shut {
		closed := make(chan Envelope)
		close(closed)
		return closed, func() {}
	}
	if len(types) == 0 {
		panic("must subscribe to at least one command type")
	}

	ch := make(chan Envelope, b.bufferSize)
	subscribed := append([]schemas.CommandType(nil), types...)
	for _, t := range subscribed {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, t := range subscribed {
			subs := b.subscribers[t]
			for i, c := range subs {
				if c == ch {
					copy(subs[i:], subs[i+1:])
					b.subscribers[t] = subs[:len(subs)-1]
					if len(b.subscribers[t]) == 0 {
						delete(b.subscribers, t)
					}
					break
				}
			}
		}
		// The channel is closed by Shutdown, not here.
	}
	return ch, unsubscribe
}

// Acknowledge marks an envelope as processed.
func (b *Bus) Acknowledge(Envelope) {
	b.processingWg.Done()
}

// Shutdown stops accepting commands, closes subscriber channels and waits for
// delivered envelopes to be acknowledged.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Debug("Shutting down command bus.")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePostsWg.Wait()

		b.mu.Lock()
		unique := make(map[chan Envelope]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		// Buffered envelopes will never be acknowledged by a consumer that already exited.
		drained := 0
		for ch := range unique {
			for range ch {
				drained++
				b.processingWg.Done()
			}
		}
		b.subscribers = make(map[schemas.CommandType][]chan Envelope)
		b.mu.Unlock()

		if drained > 0 {
			b.logger.Debug("Drained buffered commands during shutdown.", zap.Int("count", drained))
		}
		b.processingWg.Wait()
		b.logger.Debug("Command bus shut down.")
	})
}
