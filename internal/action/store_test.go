package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knossys/conductor/internal/oerr"
	"github.com/knossys/conductor/internal/target"
)

func seedAction(t *testing.T, s Store, status Status, actionType Type) Action {
	t.Helper()
	a := Action{
		ID:         "a-" + string(actionType) + "-" + string(status),
		TenantID:   testTenant,
		UserID:     "u1",
		Type:       actionType,
		TargetType: target.TypeAdmin,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.Create(context.Background(), a))
	return a
}

func TestMemoryStoreTransitionGuards(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := seedAction(t, s, StatusPending, TypeUpdate)

	ok, err := s.Transition(ctx, testTenant, a.ID, StatusApproved, StatusExecuted)
	require.NoError(t, err)
	assert.False(t, ok, "guard on expected prior status")

	ok, err = s.Transition(ctx, testTenant, a.ID, StatusPending, StatusApproved)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestMemoryStoreClaimExecutionOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := seedAction(t, s, StatusApproved, TypeUpdate)

	now := time.Now().UTC()
	ok, err := s.ClaimExecution(ctx, testTenant, a.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimExecution(ctx, testTenant, a.ID, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	got, err := s.Get(ctx, testTenant, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExecutedAt)
	assert.Equal(t, now, *got.ExecutedAt)
}

func TestMemoryStoreClaimUnknownAction(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.ClaimExecution(context.Background(), testTenant, "nope", time.Now())
	require.ErrorIs(t, err, oerr.ErrNotFound)
}

func TestMemoryStoreListFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedAction(t, s, StatusPending, TypeUpdate)
	seedAction(t, s, StatusExecuted, TypeUpdate)
	seedAction(t, s, StatusExecuted, TypeNotify)

	executed := StatusExecuted
	got, err := s.List(ctx, testTenant, Filter{Status: &executed})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	notify := TypeNotify
	got, err = s.List(ctx, testTenant, Filter{Status: &executed, Type: &notify})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, TypeNotify, got[0].Type)

	got, err = s.List(ctx, testTenant, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.List(ctx, "other-tenant", Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
