package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/akylbek/payment-system/fraud-engine/internal/fraud"
	"github.com/akylbek/payment-system/fraud-engine/internal/interfaces"
	"github.com/akylbek/payment-system/fraud-engine/internal/locker"
	"github.com/akylbek/payment-system/fraud-engine/internal/models"
	"github.com/akylbek/payment-system/fraud-engine/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu  sync.Mutex
	txs []*models.Transaction
}

func (p *recordingPublisher) PublishVerdict(_ context.Context, tx *models.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = append(p.txs, tx.Clone())
	return nil
}

type harness struct {
	store     *repository.MemoryStore
	orch      *Orchestrator
	clock     *testClock
	publisher *recordingPublisher
}

func newHarness(t *testing.T, customers ...string) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, id := range customers {
		require.NoError(t, store.CreateCustomer(context.Background(), &models.CustomerRiskProfile{CustomerID: id}))
	}
	return newHarnessWith(t, store, store)
}

func newHarnessWith(t *testing.T, store *repository.MemoryStore, txRepo interfaces.TransactionRepository) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	publisher := &recordingPublisher{}
	alerts := NewAlertEmitter(store, nil, logger)
	orch := NewOrchestrator(txRepo, store, locker.NewShardedLocker(), alerts, fraud.DefaultConfig(),
		Options{CommitInitialWait: time.Millisecond, CommitMaxElapsed: 500 * time.Millisecond}, logger).
		WithClock(clock.Now).
		WithPublisher(publisher)
	return &harness{store: store, orch: orch, clock: clock, publisher: publisher}
}

func purchase(customerID string, price int64) *models.CreateTransactionRequest {
	return &models.CreateTransactionRequest{
		CustomerID:    customerID,
		ProductID:     "prod-1",
		Quantity:      1,
		Price:         decimal.NewFromInt(price),
		PaymentMethod: models.PaymentCreditCard,
	}
}

func (h *harness) create(t *testing.T, customerID string, price int64) *models.Transaction {
	t.Helper()
	tx, err := h.orch.CreateTransaction(context.Background(), purchase(customerID, price))
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	return tx
}

func TestCreateTransaction_NewCustomerIsClean(t *testing.T) {
	h := newHarness(t, "cust-b")

	tx := h.create(t, "cust-b", 50)

	v := tx.FraudCheckResult
	require.NotNil(t, v)
	assert.False(t, v.IsSuspicious)
	assert.Zero(t, v.RiskScore)
	assert.Equal(t, models.TierLow, v.RiskTier)
	assert.Empty(t, v.Reasons)
	assert.Equal(t, 1, v.Details.VelocityCheck.TransactionCount)
	assert.True(t, v.Details.AmountCheck.Inconclusive)
	assert.Zero(t, v.Details.AmountCheck.ZScore)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(50)))

	stored, err := h.orch.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, stored.ID)

	profile, err := h.orch.GetProfile(context.Background(), "cust-b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), profile.TransactionCount)
	assert.True(t, profile.TotalSpent.Equal(decimal.NewFromInt(50)))
	assert.Len(t, h.publisher.txs, 1)
}

func TestCreateTransaction_ZeroSpreadOutlierIsHighRisk(t *testing.T) {
	h := newHarness(t, "cust-a")
	for i := 0; i < 3; i++ {
		h.create(t, "cust-a", 100)
	}

	tx := h.create(t, "cust-a", 500)

	v := tx.FraudCheckResult
	assert.True(t, v.IsSuspicious)
	assert.Equal(t, fraud.ZScoreSentinel, v.Details.AmountCheck.ZScore)
	assert.Equal(t, 100.0, v.Details.AmountCheck.CustomerMean)
	assert.Equal(t, models.TierHigh, v.RiskTier)
	assert.Equal(t, []string{fraud.ReasonAmount}, v.Reasons)
	assert.Equal(t, models.StatusFlagged, tx.Status)

	alerts, err := h.orch.alerts.List(context.Background(), models.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityError, alerts[0].Severity)
	assert.Equal(t, tx.ID, alerts[0].Metadata.TransactionID)
	assert.Equal(t, "500.00", alerts[0].Metadata.Amount)

	// flagged amounts stay out of the spend statistics
	profile, err := h.orch.GetProfile(context.Background(), "cust-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), profile.TransactionCount)
	assert.Equal(t, 1.0, profile.RiskScore)
	assert.Equal(t, models.TierHigh, profile.RiskTier)
}

func TestCreateTransaction_VelocityTriggersOnSixth(t *testing.T) {
	h := newHarness(t, "cust-c")
	for i := 0; i < 5; i++ {
		tx := h.create(t, "cust-c", 100)
		require.False(t, tx.FraudCheckResult.IsSuspicious, "transaction %d", i+1)
	}

	tx := h.create(t, "cust-c", 100)

	v := tx.FraudCheckResult
	assert.True(t, v.IsSuspicious)
	assert.Equal(t, 6, v.Details.VelocityCheck.TransactionCount)
	assert.Equal(t, 5, v.Details.VelocityCheck.Threshold)
	assert.Equal(t, 60, v.Details.VelocityCheck.WindowMinutes)
	assert.Equal(t, 0.5, v.RiskScore)
	assert.Equal(t, models.TierMedium, v.RiskTier)
	assert.Equal(t, []string{fraud.ReasonVelocity}, v.Reasons)
	assert.Equal(t, models.StatusSuspicious, tx.Status)

	alerts, err := h.orch.alerts.List(context.Background(), models.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
}

func TestCreateTransaction_RiskAccumulatesAcrossTransactions(t *testing.T) {
	h := newHarness(t, "cust-c")
	for i := 0; i < 6; i++ {
		h.create(t, "cust-c", 100)
	}

	// the seventh is still inside the window; prior 0.5 plus 0.5
	tx := h.create(t, "cust-c", 100)
	assert.Equal(t, 1.0, tx.FraudCheckResult.RiskScore)
	assert.Equal(t, models.TierHigh, tx.FraudCheckResult.RiskTier)
	assert.Equal(t, models.StatusFlagged, tx.Status)

	// well outside the window nothing triggers but the cumulative risk stays high
	h.clock.Advance(3 * time.Hour)
	tx = h.create(t, "cust-c", 100)
	assert.True(t, tx.FraudCheckResult.IsSuspicious)
	assert.Equal(t, []string{fraud.ReasonCumulativeRisk}, tx.FraudCheckResult.Reasons)
}

func TestCreateTransaction_ConcurrentSameCustomer(t *testing.T) {
	h := newHarness(t, "cust-d")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.CreateTransaction(context.Background(), purchase("cust-d", 40))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	profile, err := h.orch.GetProfile(context.Background(), "cust-d")
	require.NoError(t, err)
	assert.Equal(t, int64(2), profile.TransactionCount)
	assert.True(t, profile.TotalSpent.Equal(decimal.NewFromInt(80)))
}

func TestCreateTransaction_InvalidInput(t *testing.T) {
	h := newHarness(t, "cust-1")

	cases := map[string]*models.CreateTransactionRequest{
		"zero quantity":  {CustomerID: "cust-1", ProductID: "p", Quantity: 0, Price: decimal.NewFromInt(1), PaymentMethod: models.PaymentPayPal},
		"too many units": {CustomerID: "cust-1", ProductID: "p", Quantity: 1001, Price: decimal.NewFromInt(1), PaymentMethod: models.PaymentPayPal},
		"zero price":     {CustomerID: "cust-1", ProductID: "p", Quantity: 1, Price: decimal.Zero, PaymentMethod: models.PaymentPayPal},
		"price too high": {CustomerID: "cust-1", ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(1_000_001), PaymentMethod: models.PaymentPayPal},
		"bad method":     {CustomerID: "cust-1", ProductID: "p", Quantity: 1, Price: decimal.NewFromInt(1), PaymentMethod: "cash"},
		"unknown user":   purchase("nobody", 10),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.orch.CreateTransaction(context.Background(), req)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}

	_, err := h.orch.CreateTransaction(context.Background(), purchase("nobody", 10))
	assert.ErrorIs(t, err, models.ErrCustomerNotFound)

	profile, err := h.orch.GetProfile(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Zero(t, profile.TransactionCount)
}

// flakyCommits fails the first failures commits. When landFirst is set the
// failing attempts are applied before reporting the error.
type flakyCommits struct {
	*repository.MemoryStore
	mu        sync.Mutex
	failures  int
	landFirst bool
	attempts  int
}

func (f *flakyCommits) Commit(ctx context.Context, tx *models.Transaction) (bool, error) {
	f.mu.Lock()
	f.attempts++
	fail := f.attempts <= f.failures
	f.mu.Unlock()

	if !fail {
		return f.MemoryStore.Commit(ctx, tx)
	}
	if f.landFirst {
		if _, err := f.MemoryStore.Commit(ctx, tx); err != nil {
			return false, err
		}
	}
	return false, errors.New("connection reset")
}

func TestCreateTransaction_CommitRetriesWithoutDoubleCounting(t *testing.T) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateCustomer(context.Background(), &models.CustomerRiskProfile{CustomerID: "cust-r"}))
	flaky := &flakyCommits{MemoryStore: store, failures: 2, landFirst: true}
	h := newHarnessWith(t, store, flaky)

	tx := h.create(t, "cust-r", 75)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.Equal(t, 3, flaky.attempts)

	profile, err := store.GetProfile(context.Background(), "cust-r")
	require.NoError(t, err)
	assert.Equal(t, int64(1), profile.TransactionCount)
	assert.True(t, profile.TotalSpent.Equal(decimal.NewFromInt(75)))
}

func TestCreateTransaction_StorageUnavailable(t *testing.T) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateCustomer(context.Background(), &models.CustomerRiskProfile{CustomerID: "cust-x"}))
	flaky := &flakyCommits{MemoryStore: store, failures: 1 << 30}
	h := newHarnessWith(t, store, flaky)

	_, err := h.orch.CreateTransaction(context.Background(), purchase("cust-x", 10))
	require.ErrorIs(t, err, models.ErrStorageUnavailable)

	history, err := store.ListByCustomer(context.Background(), "cust-x")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, h.publisher.txs)
}

func TestCreateTransaction_CancelledAfterVerdictStillCommits(t *testing.T) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateCustomer(context.Background(), &models.CustomerRiskProfile{CustomerID: "cust-w"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := &cancelOnCommit{MemoryStore: store, cancel: cancel}
	h := newHarnessWith(t, store, cancelling)

	tx, err := h.orch.CreateTransaction(ctx, purchase("cust-w", 10))
	require.NoError(t, err)

	stored, err := store.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

type cancelOnCommit struct {
	*repository.MemoryStore
	cancel context.CancelFunc
}

func (c *cancelOnCommit) Commit(ctx context.Context, tx *models.Transaction) (bool, error) {
	c.cancel()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.MemoryStore.Commit(ctx, tx)
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t, "cust-c")
	var last *models.Transaction
	for i := 0; i < 6; i++ {
		last = h.create(t, "cust-c", 100)
	}
	require.Equal(t, models.StatusSuspicious, last.Status)

	updated, err := h.orch.UpdateStatus(context.Background(), last.ID, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)

	profile, err := h.orch.GetProfile(context.Background(), "cust-c")
	require.NoError(t, err)
	assert.Equal(t, int64(6), profile.TransactionCount)

	_, err = h.orch.UpdateStatus(context.Background(), last.ID, models.StatusFailed)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = h.orch.UpdateStatus(context.Background(), last.ID, models.StatusFlagged)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = h.orch.UpdateStatus(context.Background(), "missing", models.StatusFailed)
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestRecalculateProfile(t *testing.T) {
	h := newHarness(t, "cust-c")
	for i := 0; i < 6; i++ {
		h.create(t, "cust-c", 100)
	}

	// drift the stored profile away from its history
	profile, err := h.store.GetProfile(context.Background(), "cust-c")
	require.NoError(t, err)
	profile.RiskScore = 7
	profile.TransactionCount = 42
	require.NoError(t, h.store.ReplaceProfile(context.Background(), profile))

	view, err := h.orch.RecalculateProfile(context.Background(), "cust-c")
	require.NoError(t, err)
	assert.Equal(t, int64(5), view.TransactionCount)
	assert.Equal(t, 0.5, view.RiskScore)
	assert.Equal(t, models.TierMedium, view.RiskTier)
	assert.InDelta(t, 100.0, view.AmountMean, 1e-9)
	assert.True(t, view.TotalSpent.Equal(decimal.NewFromInt(500)))

	_, err = h.orch.RecalculateProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrCustomerNotFound)
}

func TestListSuspicious(t *testing.T) {
	h := newHarness(t, "cust-c")
	start := h.clock.Now()
	for i := 0; i < 7; i++ {
		h.create(t, "cust-c", 100)
	}

	txs, err := h.orch.ListSuspicious(context.Background(), start, h.clock.Now())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.True(t, tx.FraudCheckResult.IsSuspicious)
	}

	_, err = h.orch.ListSuspicious(context.Background(), h.clock.Now(), start)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

// reversingLocker holds every caller until expected callers have arrived,
// then grants the lock in reverse arrival order.
type reversingLocker struct {
	mu       sync.Mutex
	expected int
	turns    []chan struct{}
}

func (l *reversingLocker) Lock(ctx context.Context, _ string) (func(), error) {
	l.mu.Lock()
	idx := len(l.turns)
	turn := make(chan struct{})
	l.turns = append(l.turns, turn)
	if len(l.turns) == l.expected {
		close(turn)
	}
	l.mu.Unlock()

	select {
	case <-turn:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func() {
		if idx > 0 {
			l.mu.Lock()
			close(l.turns[idx-1])
			l.mu.Unlock()
		}
	}, nil
}

func TestCreateTransaction_ConcurrentBurstCountsEveryPredecessor(t *testing.T) {
	const burst = 6
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateCustomer(context.Background(), &models.CustomerRiskProfile{CustomerID: "cust-burst"}))

	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	ticking := func() time.Time {
		now := clock.Now()
		clock.Advance(5 * time.Second)
		return now
	}
	logger := zaptest.NewLogger(t)
	orch := NewOrchestrator(store, store, &reversingLocker{expected: burst}, NewAlertEmitter(store, nil, logger),
		fraud.DefaultConfig(), Options{CommitInitialWait: time.Millisecond}, logger).
		WithClock(ticking)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		txs []*models.Transaction
	)
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := orch.CreateTransaction(context.Background(), purchase("cust-burst", 100))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			txs = append(txs, tx)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, txs, burst)

	counts := make(map[int]bool)
	triggered := 0
	for _, tx := range txs {
		counts[tx.FraudCheckResult.Details.VelocityCheck.TransactionCount] = true
		if tx.FraudCheckResult.Details.VelocityCheck.Triggered {
			triggered++
			assert.Equal(t, burst, tx.FraudCheckResult.Details.VelocityCheck.TransactionCount)
		}
	}
	for n := 1; n <= burst; n++ {
		assert.True(t, counts[n], "no transaction counted %d in the window", n)
	}
	assert.Equal(t, 1, triggered)
}

// lockAttempts tries to take the customer lock from inside a broker call.
type lockAttempts struct {
	locker interface {
		Lock(ctx context.Context, customerID string) (func(), error)
	}
	mu   sync.Mutex
	errs []error
}

func (p *lockAttempts) try(ctx context.Context, customerID string) {
	lctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	unlock, err := p.locker.Lock(lctx, customerID)
	if err == nil {
		unlock()
	}
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

type lockCheckingPublisher struct{ *lockAttempts }

func (p lockCheckingPublisher) PublishVerdict(ctx context.Context, tx *models.Transaction) error {
	p.try(ctx, tx.CustomerID)
	return nil
}

type lockCheckingNotifier struct{ *lockAttempts }

func (n lockCheckingNotifier) NotifyAlert(ctx context.Context, a *models.Alert) error {
	n.try(ctx, a.Metadata.CustomerID)
	return nil
}

func TestCreateTransaction_BrokerCallsRunOutsideCustomerLock(t *testing.T) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateCustomer(context.Background(), &models.CustomerRiskProfile{CustomerID: "cust-pub"}))
	customerLocker := locker.NewShardedLocker()
	publisherAttempts := &lockAttempts{locker: customerLocker}
	notifierAttempts := &lockAttempts{locker: customerLocker}

	logger := zaptest.NewLogger(t)
	alerts := NewAlertEmitter(store, lockCheckingNotifier{notifierAttempts}, logger)
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	orch := NewOrchestrator(store, store, customerLocker, alerts, fraud.DefaultConfig(), Options{}, logger).
		WithClock(clock.Now).
		WithPublisher(lockCheckingPublisher{publisherAttempts})

	for i := 0; i < 6; i++ {
		_, err := orch.CreateTransaction(context.Background(), purchase("cust-pub", 100))
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	require.Len(t, publisherAttempts.errs, 6)
	for _, err := range publisherAttempts.errs {
		assert.NoError(t, err)
	}
	require.Len(t, notifierAttempts.errs, 1)
	assert.NoError(t, notifierAttempts.errs[0])
}

func TestListSuspicious_RespectsLimit(t *testing.T) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateCustomer(context.Background(), &models.CustomerRiskProfile{CustomerID: "cust-c"}))
	logger := zaptest.NewLogger(t)
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	orch := NewOrchestrator(store, store, locker.NewShardedLocker(), NewAlertEmitter(store, nil, logger),
		fraud.DefaultConfig(), Options{SuspiciousLimit: 1}, logger).
		WithClock(clock.Now)

	start := clock.Now()
	var last *models.Transaction
	for i := 0; i < 7; i++ {
		tx, err := orch.CreateTransaction(context.Background(), purchase("cust-c", 100))
		require.NoError(t, err)
		last = tx
		clock.Advance(time.Minute)
	}

	txs, err := orch.ListSuspicious(context.Background(), start, clock.Now())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, last.ID, txs[0].ID)
	assert.Equal(t, 1, orch.SuspiciousLimit())
}
