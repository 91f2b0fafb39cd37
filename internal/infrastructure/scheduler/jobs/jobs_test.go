package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JunyuanChen/SonnyBot-ng/internal/application/query"
)

type syncerFunc func(ctx context.Context) error

func (f syncerFunc) Handle(ctx context.Context) error { return f(ctx) }

type leaderboardFunc func(ctx context.Context, n int) ([]query.LeaderboardEntry, error)

func (f leaderboardFunc) Handle(ctx context.Context, n int) ([]query.LeaderboardEntry, error) {
	return f(ctx, n)
}

func TestSyncStoreJob(t *testing.T) {
	fail := true
	job := NewSyncStoreJob(syncerFunc(func(context.Context) error {
		if fail {
			return errors.New("offline")
		}
		return nil
	}), nil)

	assert.Equal(t, "sync_store", job.Name())
	require.Error(t, job.Run(context.Background()))
	assert.True(t, job.LastSuccess().IsZero())

	fail = false
	require.NoError(t, job.Run(context.Background()))
	assert.False(t, job.LastSuccess().IsZero())
}

func TestWarmLeaderboardJob(t *testing.T) {
	var asked int
	job := NewWarmLeaderboardJob(leaderboardFunc(func(_ context.Context, n int) ([]query.LeaderboardEntry, error) {
		asked = n
		return nil, nil
	}), nil)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, asked)
}
