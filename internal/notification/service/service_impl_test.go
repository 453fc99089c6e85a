package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/procura/internal/clock"
	"github.com/smallbiznis/procura/internal/entityref"
	"github.com/smallbiznis/procura/internal/notification/domain"
	"github.com/smallbiznis/procura/internal/notification/repository"
	"github.com/smallbiznis/procura/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotifyAndRead(t *testing.T) {
	db := dbtest.Open(t, &domain.Notification{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	ctx := context.Background()

	svc.Notify(ctx, domain.Message{
		OrgID:   1,
		UserID:  2,
		Type:    domain.TypeJobCompleted,
		Title:   "Search finished",
		Message: "12 products found",
		Related: entityref.SearchJob(99),
	})
	// Missing recipient is dropped without error.
	svc.Notify(ctx, domain.Message{OrgID: 1, Type: domain.TypeJobFailed})

	items, err := svc.ListForUser(ctx, 1, 2, true, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.PriorityNormal, items[0].Priority)
	assert.Equal(t, entityref.SearchJob(99), items[0].Related)

	require.NoError(t, svc.MarkRead(ctx, 2, items[0].ID))
	unread, err := svc.ListForUser(ctx, 1, 2, true, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)

	assert.ErrorIs(t, svc.MarkRead(ctx, 3, items[0].ID), domain.ErrNotFound)
}

func TestNotifySwallowsStoreErrors(t *testing.T) {
	// No notifications table: the insert fails and Notify must not panic.
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:    db, Log: zap.NewNop(), GenID: node,
		Clock: clock.NewFakeClock(time.Now()), Repo: repository.Provide(),
	})
	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), domain.Message{OrgID: 1, UserID: 2, Type: domain.TypeSystemAlert})
	})
}
