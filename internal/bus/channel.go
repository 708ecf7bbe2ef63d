package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	defaultChannelBuffer = 1000
	defaultRequestWait   = 30 * time.Second
)

// route scopes delivery to one account's topic.
type route struct {
	accountID string
	topic     string
}

// ChannelBus delivers messages in process. Each subscriber owns a buffered
// inbox drained by its own goroutine; a full inbox drops the message.
type ChannelBus struct {
	mu      sync.RWMutex
	buffer  int
	routes  map[route][]*inbox
	closed  bool
	dropped atomic.Int64
}

type inbox struct {
	id      string
	route   route
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	stop    context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus returns an in-process bus whose subscriber inboxes hold buffer messages.
func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &ChannelBus{buffer: buffer, routes: make(map[route][]*inbox)}
}

// Publish hands payload to every current subscriber of (accountID, topic) without blocking.
func (b *ChannelBus) Publish(ctx context.Context, accountID string, topic string, payload []byte) error {
	return b.send(accountID, topic, payload, "")
}

func (b *ChannelBus) send(accountID, topic string, payload []byte, replyTo string) error {
	if err := requireAccount(accountID); err != nil {
		return err
	}
	msg := &domain.Message{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		ReplyTo:   replyTo,
		Timestamp: time.Now().UnixNano(),
	}

	// Held for the whole fan-out so Close cannot close an inbox under us.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, in := range b.routes[route{accountID, topic}] {
		select {
		case in.queue <- msg:
		default:
			b.dropped.Add(1)
			slog.Debug("subscriber inbox full, message dropped", "topic", topic, "account_id", accountID)
		}
	}
	return nil
}

// Subscribe starts a goroutine that feeds topic messages for accountID to handler.
func (b *ChannelBus) Subscribe(ctx context.Context, accountID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	subCtx, stop := context.WithCancel(ctx)
	in := &inbox{
		id:      uuid.NewString(),
		route:   route{accountID, topic},
		handler: handler,
		queue:   make(chan *domain.Message, b.buffer),
		ctx:     subCtx,
		stop:    stop,
		bus:     b,
	}
	b.routes[in.route] = append(b.routes[in.route], in)
	go in.drain()
	return in, nil
}

func (in *inbox) drain() {
	for {
		select {
		case <-in.ctx.Done():
			return
		case msg, ok := <-in.queue:
			if !ok {
				return
			}
			if err := in.handler(in.ctx, msg); err != nil {
				slog.Warn("message handler failed", "topic", msg.Topic, "message_id", msg.ID, "error", err)
			}
		}
	}
}

// Request publishes payload with a private reply topic and waits for one answer.
// Without a deadline on ctx it gives up after 30 seconds.
func (b *ChannelBus) Request(ctx context.Context, accountID string, topic string, payload []byte) ([]byte, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestWait)
		defer cancel()
	}

	answer := make(chan []byte, 1)
	replyTopic := "_INBOX." + uuid.NewString()
	sub, err := b.Subscribe(ctx, accountID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case answer <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.send(accountID, topic, payload, replyTopic); err != nil {
		return nil, err
	}

	select {
	case reply := <-answer:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers a message received through Request.
func (b *ChannelBus) Reply(ctx context.Context, msg *domain.Message, payload []byte) error {
	if msg == nil || msg.ReplyTo == "" {
		return fmt.Errorf("bus: message has no reply topic")
	}
	return b.send(msg.AccountID, msg.ReplyTo, payload, "")
}

// Dropped counts messages lost to full inboxes.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}

// Close stops every subscriber. Calling it twice is harmless.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, inboxes := range b.routes {
		for _, in := range inboxes {
			in.stop()
			close(in.queue)
		}
	}
	b.routes = nil
	return nil
}

func (b *ChannelBus) detach(in *inbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	inboxes := b.routes[in.route]
	for i, other := range inboxes {
		if other.id == in.id {
			inboxes = append(inboxes[:i:i], inboxes[i+1:]...)
			break
		}
	}
	if len(inboxes) == 0 {
		delete(b.routes, in.route)
		return
	}
	b.routes[in.route] = inboxes
}

func (in *inbox) Unsubscribe() error {
	in.stop()
	in.bus.detach(in)
	return nil
}

func (in *inbox) Topic() string {
	return in.route.topic
}
