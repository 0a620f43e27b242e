package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/dao/store"
	"github.com/nazarick/gatekeeper/service/ledger"
)

func decisionKey(d *permission.Decision) string { return d.ID }

func TestRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(store.NewMemoryStore[string, permission.Decision](decisionKey))

	first, won, err := svc.Record(ctx, &permission.Decision{
		RequestID:  "req-1",
		Outcome:    permission.OutcomeApproved,
		ResolvedBy: "operator:alice",
	})
	require.NoError(t, err)
	assert.True(t, won)
	require.NotNil(t, first)
	assert.NotEmpty(t, first.ID)

	second, won, err := svc.Record(ctx, &permission.Decision{
		RequestID:  "req-1",
		Outcome:    permission.OutcomeTimedOut,
		ResolvedBy: permission.ResolvedByTimeout,
	})
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, permission.OutcomeApproved, second.Outcome)
}

func TestRecordUnderContention(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(store.NewMemoryStore[string, permission.Decision](decisionKey))

	const attempts = 32
	var wins sync.Map
	var waitGroup sync.WaitGroup
	for i := 0; i < attempts; i++ {
		waitGroup.Add(1)
		go func(i int) {
			defer waitGroup.Done()
			outcome := permission.OutcomeApproved
			if i%2 == 0 {
				outcome = permission.OutcomeTimedOut
			}
			decision, won, err := svc.Record(ctx, &permission.Decision{
				RequestID: "req-race",
				Outcome:   outcome,
			})
			assert.NoError(t, err)
			assert.NotNil(t, decision)
			if won {
				wins.Store(i, decision)
			}
		}(i)
	}
	waitGroup.Wait()

	var winners int
	wins.Range(func(_, _ any) bool {
		winners++
		return true
	})
	assert.Equal(t, 1, winners)

	recorded, err := svc.Get(ctx, "req-race")
	require.NoError(t, err)
	require.NotNil(t, recorded)
}

func TestIdempotencySurvivesRestart(t *testing.T) {
	ctx := context.Background()
	decisionDAO := store.NewMemoryStore[string, permission.Decision](decisionKey)

	first := ledger.New(decisionDAO)
	original, won, err := first.Record(ctx, &permission.Decision{
		RequestID: "req-1",
		Outcome:   permission.OutcomeDenied,
	})
	require.NoError(t, err)
	require.True(t, won)

	// A new ledger over the same storage must rebuild the request index.
	second := ledger.New(decisionDAO)
	replay, won, err := second.Record(ctx, &permission.Decision{
		RequestID: "req-1",
		Outcome:   permission.OutcomeApproved,
	})
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, original.ID, replay.ID)
	assert.Equal(t, permission.OutcomeDenied, replay.Outcome)
}

func TestAmendKeepsOriginalAuthoritative(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(store.NewMemoryStore[string, permission.Decision](decisionKey))

	original, _, err := svc.Record(ctx, &permission.Decision{
		RequestID: "req-1",
		Outcome:   permission.OutcomeTimedOut,
	})
	require.NoError(t, err)

	amended, err := svc.Amend(ctx, "req-1", permission.OutcomeApproved, "operator:alice", "late approval, action rerun manually")
	require.NoError(t, err)
	assert.Equal(t, original.ID, amended.Supersedes)

	authoritative, err := svc.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, original.ID, authoritative.ID)
	assert.Equal(t, permission.OutcomeTimedOut, authoritative.Outcome)
}

func TestAmendRequiresExistingDecision(t *testing.T) {
	svc := ledger.New(store.NewMemoryStore[string, permission.Decision](decisionKey))
	_, err := svc.Amend(context.Background(), "missing", permission.OutcomeApproved, "operator:alice", "")
	assert.Error(t, err)
}

func TestListFiltersByResolutionTime(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(store.NewMemoryStore[string, permission.Decision](decisionKey))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, _, err := svc.Record(ctx, &permission.Decision{
			RequestID:  string(rune('a' + i)),
			Outcome:    permission.OutcomeApproved,
			ResolvedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	window, err := svc.List(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "b", window[0].RequestID)
	assert.Equal(t, "c", window[1].RequestID)

	unbounded, err := svc.List(ctx, base, time.Time{})
	require.NoError(t, err)
	assert.Len(t, unbounded, 4)
}

func TestDecided(t *testing.T) {
	ctx := context.Background()
	svc := ledger.New(store.NewMemoryStore[string, permission.Decision](decisionKey))

	decided, err := svc.Decided(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, decided)

	_, _, err = svc.Record(ctx, &permission.Decision{RequestID: "req-1", Outcome: permission.OutcomeDenied})
	require.NoError(t, err)

	decided, err = svc.Decided(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, decided)
}
