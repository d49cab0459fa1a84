package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

// MemoryStore is an in-memory implementation of the transaction, profile
// and alert repositories for local development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	customers    map[string]*models.CustomerRiskProfile
	transactions map[string]*models.Transaction
	byCustomer   map[string][]*models.Transaction
	alerts       map[string]*models.Alert
	alertByTx    map[string]string
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:    make(map[string]*models.CustomerRiskProfile),
		transactions: make(map[string]*models.Transaction),
		byCustomer:   make(map[string][]*models.Transaction),
		alerts:       make(map[string]*models.Alert),
		alertByTx:    make(map[string]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateCustomer(ctx context.Context, profile *models.CustomerRiskProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[profile.CustomerID]; ok {
		return fmt.Errorf("%w: customer %s already exists", models.ErrInvalidInput, profile.CustomerID)
	}
	p := *profile
	p.UpdatedAt = s.now()
	s.customers[p.CustomerID] = &p
	return nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, customerID string) (*models.CustomerRiskProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.customers[customerID]
	if !ok {
		return nil, models.ErrCustomerNotFound
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) ReplaceProfile(ctx context.Context, profile *models.CustomerRiskProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[profile.CustomerID]; !ok {
		return models.ErrCustomerNotFound
	}
	p := *profile
	p.UpdatedAt = s.now()
	s.customers[p.CustomerID] = &p
	return nil
}

func (s *MemoryStore) CountInWindow(ctx context.Context, customerID string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, tx := range s.byCustomer[customerID] {
		if !tx.Timestamp.Before(from) && !tx.Timestamp.After(to) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Commit(ctx context.Context, tx *models.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[tx.ID]; ok {
		return false, nil
	}
	profile, ok := s.customers[tx.CustomerID]
	if !ok {
		return false, models.ErrCustomerNotFound
	}

	stored := tx.Clone()
	s.transactions[stored.ID] = stored
	s.byCustomer[stored.CustomerID] = append(s.byCustomer[stored.CustomerID], stored)

	profile.AddRisk(stored.RiskContribution)
	if stored.Status == models.StatusCompleted {
		profile.Observe(stored.Amount)
	}
	profile.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (s *MemoryStore) ListSuspicious(ctx context.Context, filter models.SuspiciousFilter) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Transaction
	for _, tx := range s.transactions {
		if tx.FraudCheckResult == nil || !tx.FraudCheckResult.IsSuspicious {
			continue
		}
		if !filter.From.IsZero() && tx.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && tx.Timestamp.After(filter.To) {
			continue
		}
		result = append(result, tx.Clone())
	}

	// Most recent first
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemoryStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byCustomer[customerID]
	result := make([]*models.Transaction, 0, len(all))
	for _, tx := range all {
		result = append(result, tx.Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, id string, to models.TransactionStatus) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	if !tx.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, tx.Status, to)
	}
	tx.Status = to
	if to == models.StatusCompleted {
		if profile, ok := s.customers[tx.CustomerID]; ok {
			profile.Observe(tx.Amount)
			profile.UpdatedAt = s.now()
		}
	}
	return tx.Clone(), nil
}

func (s *MemoryStore) UpsertAlert(ctx context.Context, alert *models.Alert) (*models.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := alert.Metadata.TransactionID
	if txID != "" {
		if existingID, ok := s.alertByTx[txID]; ok {
			return copyAlert(s.alerts[existingID]), false, nil
		}
	}
	if _, ok := s.alerts[alert.ID]; ok {
		return copyAlert(s.alerts[alert.ID]), false, nil
	}

	stored := copyAlert(alert)
	s.alerts[stored.ID] = stored
	if txID != "" {
		s.alertByTx[txID] = stored.ID
	}
	return copyAlert(stored), true, nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Alert
	for _, a := range s.alerts {
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if !filter.Since.IsZero() && a.CreatedAt.Before(filter.Since) {
			continue
		}
		result = append(result, copyAlert(a))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *MemoryStore) ResolveAlert(ctx context.Context, id string, at time.Time) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	if a.ResolvedAt == nil {
		resolved := at
		a.ResolvedAt = &resolved
	}
	return copyAlert(a), nil
}

func copyAlert(a *models.Alert) *models.Alert {
	c := *a
	c.Metadata.Reasons = append([]string(nil), a.Metadata.Reasons...)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
