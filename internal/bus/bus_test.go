package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	accountID := "acct-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, accountID, domain.TopicRecordAppended, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, accountID, domain.TopicRecordAppended, []byte("hello")))

		select {
		case msg := <-got:
			assert.Equal(t, "hello", string(msg.Payload))
			assert.Equal(t, accountID, msg.AccountID)
			assert.Equal(t, domain.TopicRecordAppended, msg.Topic)
			assert.NotEmpty(t, msg.ID)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("AccountIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		_, err := bus.Subscribe(ctx, "acct-a", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		require.NoError(t, err)
		_, err = bus.Subscribe(ctx, "acct-b", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, "acct-a", "isolation.topic", []byte("msg1")))
		waitFor(t, func() bool { return received1.Load() == 1 })

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(0), received2.Load())
	})

	t.Run("RequiresAccountID", func(t *testing.T) {
		err := bus.Publish(ctx, "", "topic", []byte("data"))
		assert.True(t, errors.Is(err, domain.ErrAccountRequired))

		_, err = bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		assert.True(t, errors.Is(err, domain.ErrAccountRequired))

		_, err = bus.Request(ctx, "", "topic", nil)
		assert.True(t, errors.Is(err, domain.ErrAccountRequired))
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, err := bus.Subscribe(ctx, accountID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, accountID, "unsub.topic", []byte("msg1")))
		waitFor(t, func() bool { return count.Load() == 1 })

		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, bus.Publish(ctx, accountID, "unsub.topic", []byte("msg2")))
		time.Sleep(30 * time.Millisecond)

		assert.Equal(t, int32(1), count.Load())
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		_, err := bus.Subscribe(ctx, accountID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		require.NoError(t, err)
		_, err = bus.Subscribe(ctx, accountID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, accountID, "multi.topic", []byte("broadcast")))
		waitFor(t, func() bool { return count1.Load() == 1 && count2.Load() == 1 })
	})

	t.Run("RequestReply", func(t *testing.T) {
		_, err := bus.Subscribe(ctx, domain.SystemAccountID, domain.TopicClassifierPredict, func(ctx context.Context, msg *domain.Message) error {
			return bus.Reply(ctx, msg, append([]byte("echo:"), msg.Payload...))
		})
		require.NoError(t, err)

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, domain.SystemAccountID, domain.TopicClassifierPredict, []byte("ping"))
		require.NoError(t, err)
		assert.Equal(t, "echo:ping", string(reply))
	})

	t.Run("RequestWithoutResponderTimesOut", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err := bus.Request(reqCtx, accountID, "nobody.listens", []byte("ping"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("ReplyRequiresReplyTopic", func(t *testing.T) {
		err := bus.Reply(ctx, &domain.Message{AccountID: accountID}, []byte("x"))
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, bus.Ping(ctx))
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx, accountID, domain.TopicFraudAlert, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TopicFraudAlert, sub.Topic())
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	accountID := "acct-001"

	_, err := bus.Subscribe(ctx, accountID, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(ctx, accountID, "close.topic", []byte("data")), ErrBusClosed)
	assert.ErrorIs(t, bus.Ping(ctx), ErrBusClosed)
}

func TestChannelBusDropsWhenInboxFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	_, err := bus.Subscribe(ctx, "acct-slow", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "acct-slow", "slow.topic", []byte("1")))
	<-started
	require.NoError(t, bus.Publish(ctx, "acct-slow", "slow.topic", []byte("2")))
	require.NoError(t, bus.Publish(ctx, "acct-slow", "slow.topic", []byte("3")))
	close(release)

	assert.Equal(t, int64(1), bus.Dropped())
}

func TestNATSHeaderRoundTrip(t *testing.T) {
	b := &NATSBus{}
	out := b.outgoing("harrier.fraud.alert.acct-1", "acct-1", domain.TopicFraudAlert, []byte(`{"recordId":7}`))
	out.Header.Set("Trace-Id", "abc")
	out.Reply = "_INBOX.1"

	msg := incoming(out)
	assert.Equal(t, "acct-1", msg.AccountID)
	assert.Equal(t, domain.TopicFraudAlert, msg.Topic)
	assert.Equal(t, `{"recordId":7}`, string(msg.Payload))
	assert.Equal(t, "_INBOX.1", msg.ReplyTo)
	assert.NotEmpty(t, msg.ID)
	assert.Positive(t, msg.Timestamp)
	assert.Equal(t, "abc", msg.Metadata["Trace-Id"])
	assert.NotContains(t, msg.Metadata, nats.MsgIdHdr)
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		require.NoError(t, err)
		defer bus.Close()

		_, ok := bus.(*ChannelBus)
		assert.True(t, ok, "expected ChannelBus for channel type")
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		assert.Error(t, err)
	})
}

func TestSubjectToken(t *testing.T) {
	b := &NATSBus{}
	assert.Equal(t, "harrier.fraud.alert.acct-42", b.makeSubject("acct-42", domain.TopicFraudAlert))
	assert.Equal(t, "harrier.fraud.alert._612e62", b.makeSubject("a.b", domain.TopicFraudAlert))
	assert.Equal(t, "harrier.fraud.alert._5f73797374656d", b.makeSubject(domain.SystemAccountID, domain.TopicFraudAlert))

	// Ids that a character replacement would have merged stay apart.
	seen := map[string]string{}
	for _, id := range []string{"a.b", "a_b", "a b", "a*b", "a>b", "ab", "_612e62", "A.B"} {
		tok := subjectToken(id)
		assert.NotContains(t, tok, ".")
		assert.NotContains(t, tok, "*")
		assert.NotContains(t, tok, ">")
		assert.NotContains(t, tok, " ")
		if other, dup := seen[tok]; dup {
			t.Fatalf("accounts %q and %q share subject token %q", other, id, tok)
		}
		seen[tok] = id
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	accountID := "acct-load"

	const messageCount = 100
	var wg sync.WaitGroup
	wg.Add(messageCount)

	var received atomic.Int32
	_, err := bus.Subscribe(ctx, accountID, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < messageCount; i++ {
		require.NoError(t, bus.Publish(ctx, accountID, "load.topic", []byte("msg")))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, int32(messageCount), received.Load())
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
