package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/velocity"
)

type classifierFunc func(ctx context.Context, v domain.FeatureVector) (domain.Verdict, error)

func (f classifierFunc) Classify(ctx context.Context, v domain.FeatureVector) (domain.Verdict, error) {
	return f(ctx, v)
}

// bigTransfersAreFraud flags transfers of 200 or more.
var bigTransfersAreFraud = classifierFunc(func(ctx context.Context, v domain.FeatureVector) (domain.Verdict, error) {
	if v[domain.FeatureAmount] >= 200 {
		return domain.VerdictFraudulent, nil
	}
	return domain.VerdictLegitimate, nil
})

// failingAppend wraps a real store and fails every Append.
type failingAppend struct {
	domain.AuditStore
}

func (failingAppend) Append(ctx context.Context, accountID string, in *domain.TransactionInput, v domain.Verdict) (domain.RecordID, error) {
	return 0, errors.New("disk full")
}

func newStore(t *testing.T) *repository.SQLStore {
	t.Helper()
	store, err := repository.New(context.Background(), domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "scoring.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func raw(typ, amount string) domain.RawTransaction {
	return domain.RawTransaction{
		Step:           "1",
		Type:           typ,
		Amount:         amount,
		OldBalanceOrig: "1000",
		NewBalanceOrig: "0",
		OldBalanceDest: "0",
		NewBalanceDest: "0",
	}
}

func count(t *testing.T, store domain.AuditStore, accountID string) int64 {
	t.Helper()
	n, err := store.Count(context.Background(), accountID, domain.RecordFilter{})
	require.NoError(t, err)
	return n
}

func TestSubmitTransactionRecordsVerdict(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, bigTransfersAreFraud)
	ctx := context.Background()

	sub, err := svc.SubmitTransaction(ctx, "acct-1", raw("TRANSFER", "250"))
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictFraudulent, sub.Verdict)
	assert.True(t, sub.Fraud)
	assert.Equal(t, "acct-1", sub.AccountID)

	rec, err := svc.GetRecord(ctx, "acct-1", sub.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictFraudulent, rec.Verdict)
	assert.Equal(t, 250.0, rec.Amount)
	assert.Equal(t, 1, rec.TypeCode)
}

func TestSubmitTransactionValidationRecordsNothing(t *testing.T) {
	store := newStore(t)
	called := false
	svc := NewService(store, classifierFunc(func(ctx context.Context, v domain.FeatureVector) (domain.Verdict, error) {
		called = true
		return domain.VerdictLegitimate, nil
	}))

	_, err := svc.SubmitTransaction(context.Background(), "acct-1", raw("PAYMENT", "-5"))

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.RuleNegativeAmount, verr.Rule)
	assert.False(t, called, "classifier must not be consulted for invalid input")
	assert.Zero(t, count(t, store, "acct-1"))

	_, err = svc.SubmitTransaction(context.Background(), "acct-1", raw("WIRE", "10"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.RuleUnknownTransactionType, verr.Rule)
	assert.Zero(t, count(t, store, "acct-1"))
}

func TestSubmitClassifierUnavailableRecordsNothing(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, classifierFunc(func(ctx context.Context, v domain.FeatureVector) (domain.Verdict, error) {
		return "", domain.ErrClassifierUnavailable
	}))

	_, err := svc.SubmitTransaction(context.Background(), "acct-1", raw("TRANSFER", "100"))
	assert.ErrorIs(t, err, domain.ErrClassifierUnavailable)
	assert.NotErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, count(t, store, "acct-1"))
}

func TestSubmitPersistenceFailureCarriesVerdict(t *testing.T) {
	svc := NewService(failingAppend{newStore(t)}, bigTransfersAreFraud)

	_, err := svc.SubmitTransaction(context.Background(), "acct-1", raw("CASH_OUT", "500"))
	require.ErrorIs(t, err, domain.ErrPersistence)

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.VerdictFraudulent, perr.Verdict)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSubmitRequiresAccount(t *testing.T) {
	svc := NewService(newStore(t), bigTransfersAreFraud)

	_, err := svc.SubmitTransaction(context.Background(), "", raw("PAYMENT", "1"))
	assert.ErrorIs(t, err, domain.ErrAccountRequired)

	_, err = svc.Submit(context.Background(), "acct", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmitEnforcesQuota(t *testing.T) {
	store := newStore(t)
	limiter := velocity.NewLimiter(cache.NewLRUCache(10), domain.QuotaConfig{MaxSubmissions: 2, Window: time.Minute})
	svc := NewService(store, bigTransfersAreFraud, WithLimiter(limiter))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.SubmitTransaction(ctx, "acct-q", raw("PAYMENT", "1"))
		require.NoError(t, err)
	}

	_, err := svc.SubmitTransaction(ctx, "acct-q", raw("PAYMENT", "1"))
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, int64(2), count(t, store, "acct-q"))

	// Invalid input does not consume quota.
	_, err = svc.SubmitTransaction(ctx, "acct-r", raw("PAYMENT", "-1"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.SubmitTransaction(ctx, "acct-r", raw("PAYMENT", "1"))
	assert.NoError(t, err)
}

func TestSubmitPublishesEvents(t *testing.T) {
	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	ctx := context.Background()
	appended := make(chan domain.RecordEvent, 4)
	alerts := make(chan domain.RecordEvent, 4)

	decodeInto := func(ch chan domain.RecordEvent) domain.MessageHandler {
		return func(ctx context.Context, msg *domain.Message) error {
			var ev domain.RecordEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return err
			}
			ch <- ev
			return nil
		}
	}
	_, err := eventBus.Subscribe(ctx, "acct-ev", domain.TopicRecordAppended, decodeInto(appended))
	require.NoError(t, err)
	_, err = eventBus.Subscribe(ctx, "acct-ev", domain.TopicFraudAlert, decodeInto(alerts))
	require.NoError(t, err)

	svc := NewService(newStore(t), bigTransfersAreFraud, WithEventBus(eventBus))

	legit, err := svc.SubmitTransaction(ctx, "acct-ev", raw("PAYMENT", "10"))
	require.NoError(t, err)
	fraud, err := svc.SubmitTransaction(ctx, "acct-ev", raw("TRANSFER", "900"))
	require.NoError(t, err)

	for _, want := range []domain.RecordID{legit.RecordID, fraud.RecordID} {
		select {
		case ev := <-appended:
			assert.Equal(t, want, ev.RecordID)
		case <-time.After(time.Second):
			t.Fatal("missing record event")
		}
	}

	select {
	case ev := <-alerts:
		assert.Equal(t, fraud.RecordID, ev.RecordID)
		assert.Equal(t, domain.VerdictFraudulent, ev.Verdict)
	case <-time.After(time.Second):
		t.Fatal("missing fraud alert")
	}

	select {
	case ev := <-alerts:
		t.Fatalf("unexpected alert for record %d", ev.RecordID)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestGetDashboard(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, bigTransfersAreFraud)
	ctx := context.Background()

	for _, r := range []domain.RawTransaction{
		raw("TRANSFER", "100"),
		raw("CASH_OUT", "200"),
		raw("PAYMENT", "50"),
	} {
		_, err := svc.SubmitTransaction(ctx, "acct-dash", r)
		require.NoError(t, err)
	}

	dash, err := svc.GetDashboard(ctx, "acct-dash")
	require.NoError(t, err)
	assert.Equal(t, int64(3), dash.TotalCount)
	assert.Equal(t, int64(1), dash.FraudCount)
	assert.Equal(t, 33.33, dash.FraudPercentage)
	assert.Equal(t, 350.0, dash.TotalAmount)
	assert.Equal(t, []float64{100, 200, 50}, dash.Amounts())
	assert.Len(t, dash.Recent, 3)

	summary, err := svc.GetSummary(ctx, "acct-dash")
	require.NoError(t, err)
	assert.Nil(t, summary.Recent)

	recent, err := svc.ListRecent(ctx, "acct-dash", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 50.0, recent[0].Amount)

	_, err = svc.GetRecord(ctx, "acct-other", recent[0].ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.NoError(t, svc.Ready(ctx))
}
