package store

import (
	"context"

	"github.com/serroba/admission/internal/decisions"
	"go.uber.org/zap"
)

// Noop is a decisions.Store that only logs what it receives.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a new no-op decision store.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) Save(_ context.Context, decision *decisions.Decision) error {
	n.logger.Info("decision received",
		zap.Stringer("id", decision.ID),
		zap.String("algorithm", decision.Algorithm),
		zap.String("identity", decision.Identity().String()),
		zap.Int64("windowSeconds", decision.WindowSeconds),
		zap.Bool("allowed", decision.Allowed),
		zap.Time("decidedAt", decision.DecidedAt),
	)

	return nil
}
