package seed_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plantwatch/alertcore/internal/db"
	"github.com/plantwatch/alertcore/internal/escalation"
	"github.com/plantwatch/alertcore/internal/model"
	"github.com/plantwatch/alertcore/internal/seed"
	"github.com/plantwatch/alertcore/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	return store.New(gdb)
}

func TestDefaultPoliciesAreValid(t *testing.T) {
	for _, p := range seed.DefaultPolicies() {
		p := p
		assert.NoError(t, escalation.ValidatePolicy(&p), p.Name)
	}
}

func TestEnsurePolicies(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, seed.EnsurePolicies(ctx, st, log))

	policies, err := st.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "default-routine", policies[0].Name)
	assert.Equal(t, "default-urgent", policies[1].Name)

	// Second run is a no-op, even after operators change the set.
	require.NoError(t, seed.EnsurePolicies(ctx, st, log))
	policies, err = st.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, policies, 2)
}

func TestEnsurePoliciesRespectsExistingRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	custom := &model.EscalationPolicy{
		Name:       "plant-custom",
		Severities: model.StringSlice{"critical"},
		Enabled:    true,
		Tiers: model.EscalationTiers{
			{Level: 1, DelayMinutes: 0, Channels: model.StringSlice{"email"}, Recipients: model.StringSlice{"oncall-primary"}},
		},
	}
	require.NoError(t, st.CreatePolicy(ctx, custom))

	require.NoError(t, seed.EnsurePolicies(ctx, st, log))
	policies, err := st.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "plant-custom", policies[0].Name)
}
