package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

func newTx(id, customerID string, amount int64, status models.TransactionStatus, at time.Time) *models.Transaction {
	price := decimal.NewFromInt(amount)
	return &models.Transaction{
		ID:            id,
		CustomerID:    customerID,
		ProductID:     "p1",
		Quantity:      1,
		Price:         price,
		Amount:        price,
		PaymentMethod: models.PaymentCreditCard,
		Status:        status,
		Timestamp:     at,
		FraudCheckResult: &models.FraudVerdict{
			IsSuspicious: status != models.StatusCompleted,
			Reasons:      []string{},
		},
	}
}

func seedCustomer(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateCustomer(context.Background(), &models.CustomerRiskProfile{CustomerID: id}))
}

func TestMemoryStore_CommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCustomer(t, s, "c1")

	tx := newTx("t1", "c1", 100, models.StatusCompleted, time.Now().UTC())
	tx.RiskContribution = 0.5

	applied, err := s.Commit(ctx, tx)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Commit(ctx, tx)
	require.NoError(t, err)
	assert.False(t, applied)

	p, err := s.GetProfile(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.TransactionCount)
	assert.Equal(t, 0.5, p.RiskScore)
	assert.True(t, p.TotalSpent.Equal(decimal.NewFromInt(100)))
}

func TestMemoryStore_CommitOnlyCompletedUpdatesStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCustomer(t, s, "c1")

	tx := newTx("t1", "c1", 900, models.StatusSuspicious, time.Now().UTC())
	tx.RiskContribution = 0.5
	_, err := s.Commit(ctx, tx)
	require.NoError(t, err)

	p, err := s.GetProfile(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.TransactionCount)
	assert.Equal(t, 0.5, p.RiskScore)
	assert.True(t, p.TotalSpent.IsZero())
}

func TestMemoryStore_CommitUnknownCustomer(t *testing.T) {
	_, err := NewMemoryStore().Commit(context.Background(), newTx("t1", "ghost", 1, models.StatusCompleted, time.Now()))
	assert.ErrorIs(t, err, models.ErrCustomerNotFound)
}

func TestMemoryStore_CountInWindowInclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCustomer(t, s, "c1")
	seedCustomer(t, s, "c2")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(-time.Hour)
	for i, at := range []time.Time{from, now.Add(-30 * time.Minute), now, from.Add(-time.Second)} {
		_, err := s.Commit(ctx, newTx(string(rune('a'+i)), "c1", 10, models.StatusCompleted, at))
		require.NoError(t, err)
	}
	_, err := s.Commit(ctx, newTx("other", "c2", 10, models.StatusCompleted, now))
	require.NoError(t, err)

	n, err := s.CountInWindow(ctx, "c1", from, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemoryStore_ListSuspicious(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCustomer(t, s, "c1")

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	_, _ = s.Commit(ctx, newTx("ok", "c1", 10, models.StatusCompleted, base.Add(time.Hour)))
	_, _ = s.Commit(ctx, newTx("s1", "c1", 10, models.StatusSuspicious, base.Add(2*time.Hour)))
	_, _ = s.Commit(ctx, newTx("s2", "c1", 10, models.StatusFlagged, base.Add(3*time.Hour)))
	_, _ = s.Commit(ctx, newTx("old", "c1", 10, models.StatusFlagged, base.Add(-time.Hour)))

	got, err := s.ListSuspicious(ctx, models.SuspiciousFilter{From: base, To: base.Add(4 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].ID)
	assert.Equal(t, "s1", got[1].ID)
}

func TestMemoryStore_TransitionStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCustomer(t, s, "c1")
	_, err := s.Commit(ctx, newTx("t1", "c1", 40, models.StatusSuspicious, time.Now().UTC()))
	require.NoError(t, err)

	tx, err := s.TransitionStatus(ctx, "t1", models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)

	p, _ := s.GetProfile(ctx, "c1")
	assert.Equal(t, int64(1), p.TransactionCount)
	assert.Equal(t, 40.0, p.AmountMean)

	_, err = s.TransitionStatus(ctx, "t1", models.StatusFailed)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = s.TransitionStatus(ctx, "missing", models.StatusFailed)
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestMemoryStore_UpsertAlertByTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := &models.Alert{ID: "a1", Type: models.AlertSuspiciousTransaction, Severity: models.SeverityWarning,
		Metadata: models.AlertMetadata{TransactionID: "t1"}, CreatedAt: time.Now()}
	dup := &models.Alert{ID: "a2", Type: models.AlertSuspiciousTransaction, Severity: models.SeverityError,
		Metadata: models.AlertMetadata{TransactionID: "t1"}, CreatedAt: time.Now()}

	stored, created, err := s.UpsertAlert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a1", stored.ID)

	stored, created, err = s.UpsertAlert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a1", stored.ID)

	all, err := s.ListAlerts(ctx, models.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_ListAlertsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	for i, sev := range []models.Severity{models.SeverityWarning, models.SeverityError, models.SeverityWarning} {
		_, _, err := s.UpsertAlert(ctx, &models.Alert{
			ID:        string(rune('a' + i)),
			Type:      models.AlertSuspiciousTransaction,
			Severity:  sev,
			Metadata:  models.AlertMetadata{TransactionID: string(rune('x' + i))},
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	warnings, err := s.ListAlerts(ctx, models.AlertFilter{Severity: models.SeverityWarning})
	require.NoError(t, err)
	assert.Len(t, warnings, 2)

	recent, err := s.ListAlerts(ctx, models.AlertFilter{Since: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := s.ListAlerts(ctx, models.AlertFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestMemoryStore_ResolveAlert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.UpsertAlert(ctx, &models.Alert{ID: "a1", Type: models.AlertSystem, CreatedAt: time.Now()})

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := s.ResolveAlert(ctx, "a1", at)
	require.NoError(t, err)
	require.NotNil(t, a.ResolvedAt)
	assert.Equal(t, at, *a.ResolvedAt)

	again, err := s.ResolveAlert(ctx, "a1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, at, *again.ResolvedAt)

	_, err = s.ResolveAlert(ctx, "nope", at)
	assert.ErrorIs(t, err, models.ErrAlertNotFound)
}
