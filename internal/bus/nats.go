package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Message attributes travel as NATS headers so the payload stays untouched on the wire.
const (
	headerAccount = "Harrier-Account"
	headerTopic   = "Harrier-Topic"
	headerSentAt  = "Harrier-Sent-At"
)

// NATSBus carries events and classifier requests between processes.
// Subjects end in the account token, so subscribers only ever see their own account.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
}

// NewNATSBus dials cfg.NATSUrl, retrying up to cfg.NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name("harrier"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 << 20),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		slog.Warn("nats connect failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("nats %s: giving up after %d attempts: %w", url, attempts, err)
	}

	slog.Info("nats connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{conn: conn}, nil
}

func (b *NATSBus) outgoing(subject, accountID, topic string, payload []byte) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set(headerAccount, accountID)
	msg.Header.Set(headerTopic, topic)
	msg.Header.Set(headerSentAt, strconv.FormatInt(time.Now().UnixNano(), 10))
	return msg
}

// incoming rebuilds a domain message. Unknown headers land in Metadata.
func incoming(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		Payload:  m.Data,
		ReplyTo:  m.Reply,
		Metadata: map[string]string{},
	}
	for key, values := range m.Header {
		if len(values) == 0 {
			continue
		}
		switch key {
		case nats.MsgIdHdr:
			msg.ID = values[0]
		case headerAccount:
			msg.AccountID = values[0]
		case headerTopic:
			msg.Topic = values[0]
		case headerSentAt:
			msg.Timestamp, _ = strconv.ParseInt(values[0], 10, 64)
		default:
			msg.Metadata[key] = values[0]
		}
	}
	return msg
}

func (b *NATSBus) Publish(ctx context.Context, accountID string, topic string, payload []byte) error {
	if err := requireAccount(accountID); err != nil {
		return err
	}
	return b.conn.PublishMsg(b.outgoing(b.makeSubject(accountID, topic), accountID, topic, payload))
}

// Subscribe runs handler on the connection's dispatch goroutine for this subject.
func (b *NATSBus) Subscribe(ctx context.Context, accountID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}

	sub, err := b.conn.Subscribe(b.makeSubject(accountID, topic), func(m *nats.Msg) {
		msg := incoming(m)
		if err := handler(ctx, msg); err != nil {
			slog.Error("message handler failed", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return &natsSubscription{topic: topic, sub: sub}, nil
}

// Request waits for the first reply, or 30 seconds when ctx has no deadline.
func (b *NATSBus) Request(ctx context.Context, accountID string, topic string, payload []byte) ([]byte, error) {
	if err := requireAccount(accountID); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestWait)
		defer cancel()
	}

	reply, err := b.conn.RequestMsgWithContext(ctx, b.outgoing(b.makeSubject(accountID, topic), accountID, topic, payload))
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", topic, err)
	}
	return reply.Data, nil
}

// Reply answers on the inbox subject the requester is listening on.
func (b *NATSBus) Reply(ctx context.Context, msg *domain.Message, payload []byte) error {
	if msg == nil || msg.ReplyTo == "" {
		return fmt.Errorf("bus: message has no reply subject")
	}
	return b.conn.PublishMsg(b.outgoing(msg.ReplyTo, msg.AccountID, msg.Topic, payload))
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops every subscription and the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// makeSubject appends the account token to the topic, e.g. harrier.fraud.alert.acct-42.
func (b *NATSBus) makeSubject(accountID, topic string) string {
	return topic + "." + subjectToken(accountID)
}

// Stats exposes the connection's traffic counters.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if err == nats.ErrConnectionClosed || err == nats.ErrBadSubscription {
		return nil
	}
	return err
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
