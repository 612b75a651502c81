package decisions

import (
	"context"
	"time"

	"github.com/serroba/admission/internal/keys"
)

// Store persists admission decisions.
type Store interface {
	Save(ctx context.Context, decision *Decision) error
}

// Counter summarizes stored decisions for an identity.
type Counter interface {
	Counts(ctx context.Context, id keys.Identity, since time.Time) (allowed, denied int64, err error)
}
