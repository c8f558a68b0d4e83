package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// ErrInsufficientCredits is returned when a deduction would drive the
// balance negative. It is a business rejection and is never retried.
var ErrInsufficientCredits = errors.New("insufficient credits")

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 100 * time.Millisecond
)

// Store performs the atomic balance operations against the backing
// datastore. Mutations must be single server-side statements so that
// concurrent requests from the same user cannot lose updates.
type Store interface {
	DeductCredits(userID uint, amount uint) (creditsLeft uint, err error)
	RefundCredits(userID uint, amount uint) (creditsLeft uint, err error)
	GetCredits(userID uint) (creditsLeft uint, totalUsed uint, err error)
}

// Balance is a read-only projection of a user's credit account.
type Balance struct {
	CreditsLeft      uint `json:"credits_left"`
	TotalCreditsUsed uint `json:"total_credits_used"`
}

// Service wraps the store with bounded retry on transient errors.
type Service struct {
	store      Store
	maxRetries int
	retryDelay time.Duration
}

// NewService creates a credit ledger service with default retry policy
func NewService(store Store) *Service {
	return &Service{
		store:      store,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
}

// NewServiceWithRetry creates a service with an explicit retry policy
func NewServiceWithRetry(store Store, maxRetries int, retryDelay time.Duration) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Deduct removes amount credits from the user's balance. The deduction is
// atomic on the store side; a definitive insufficient-credits result is
// returned immediately, transient store errors are retried with linear
// backoff.
func (s *Service) Deduct(ctx context.Context, userID uint, amount uint) (uint, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		creditsLeft, err := s.store.DeductCredits(userID, amount)
		if err == nil {
			return creditsLeft, nil
		}
		if errors.Is(err, ErrInsufficientCredits) {
			return 0, err
		}
		lastErr = err
		log.Warnf("[Credits] Deduct attempt %d/%d for user %d failed: %v", attempt, s.maxRetries, userID, err)
		if attempt < s.maxRetries {
			if err := s.wait(ctx, attempt); err != nil {
				return 0, err
			}
		}
	}
	return 0, fmt.Errorf("deduct %d credits for user %d: %w", amount, userID, lastErr)
}

// Refund returns amount credits to the user's balance. TotalCreditsUsed
// stays monotonic; only the spendable balance is restored.
func (s *Service) Refund(ctx context.Context, userID uint, amount uint) (uint, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		creditsLeft, err := s.store.RefundCredits(userID, amount)
		if err == nil {
			return creditsLeft, nil
		}
		lastErr = err
		log.Warnf("[Credits] Refund attempt %d/%d for user %d failed: %v", attempt, s.maxRetries, userID, err)
		if attempt < s.maxRetries {
			if err := s.wait(ctx, attempt); err != nil {
				return 0, err
			}
		}
	}
	return 0, fmt.Errorf("refund %d credits for user %d: %w", amount, userID, lastErr)
}

// Balance reads the current credit balance for a user
func (s *Service) Balance(ctx context.Context, userID uint) (*Balance, error) {
	creditsLeft, totalUsed, err := s.store.GetCredits(userID)
	if err != nil {
		return nil, fmt.Errorf("read balance for user %d: %w", userID, err)
	}
	return &Balance{CreditsLeft: creditsLeft, TotalCreditsUsed: totalUsed}, nil
}

// wait sleeps for retryDelay * attempt (linear backoff) or until ctx ends
func (s *Service) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(s.retryDelay * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
