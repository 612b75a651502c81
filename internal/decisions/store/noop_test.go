package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/admission/internal/decisions"
	"github.com/serroba/admission/internal/decisions/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNoop_Save(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	noop := store.NewNoop(zap.New(core))

	err := noop.Save(context.Background(), &decisions.Decision{
		Algorithm:     "token-bucket",
		Prefix:        "api",
		Resource:      "orders",
		Subject:       "andy",
		WindowSeconds: 60,
		Allowed:       true,
		DecidedAt:     time.Now(),
	})

	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "token-bucket", fields["algorithm"])
	assert.Equal(t, "api:orders:andy", fields["identity"])
	assert.Equal(t, true, fields["allowed"])
}
