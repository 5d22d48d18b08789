package reliability

import (
	"context"
	"errors"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// LayoutRepositoryWrapper guards a layout repository with a circuit breaker.
// Reads of a session without history are answers, not failures, and never
// trip the breaker.
type LayoutRepositoryWrapper struct {
	repo           ports.LayoutRepository
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.SugaredLogger
}

func NewLayoutRepositoryWrapper(
	repo ports.LayoutRepository,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *LayoutRepositoryWrapper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	w := &LayoutRepositoryWrapper{
		repo:           repo,
		circuitBreaker: circuitbreaker.New(cbConfig),
		logger:         logger,
	}

	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("layout repository circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func (w *LayoutRepositoryWrapper) Append(ctx context.Context, record *domain.LayoutRecord) error {
	return w.circuitBreaker.Execute(ctx, func() error {
		return w.repo.Append(ctx, record)
	})
}

type latestResult struct {
	record   *domain.LayoutRecord
	notFound bool
}

func (w *LayoutRepositoryWrapper) Latest(ctx context.Context, sessionID domain.SessionID) (*domain.LayoutRecord, error) {
	res, err := circuitbreaker.Do(ctx, w.circuitBreaker, func() (latestResult, error) {
		rec, err := w.repo.Latest(ctx, sessionID)
		if errors.Is(err, domain.ErrLayoutNotFound) {
			return latestResult{notFound: true}, nil
		}
		return latestResult{record: rec}, err
	})
	if err != nil {
		return nil, err
	}
	if res.notFound {
		return nil, domain.ErrLayoutNotFound
	}
	return res.record, nil
}

func (w *LayoutRepositoryWrapper) History(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.LayoutRecord, error) {
	return circuitbreaker.Do(ctx, w.circuitBreaker, func() ([]*domain.LayoutRecord, error) {
		return w.repo.History(ctx, sessionID, limit)
	})
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *LayoutRepositoryWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
