package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scikido/meter/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newSession(id, participant string) *domain.Session {
	return &domain.Session{
		ID:                  id,
		ChannelSessionID:    "0xchannel_" + id,
		ParticipantAddress:  participant,
		CounterpartyAddress: "0xBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbbBBBBbbbb",
		Asset:               "ytest.usd",
		InitialAllocation:   dec("0.01"),
		TotalCost:           decimal.Zero,
		StartTime:           time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	r := New()
	s := newSession("s1", "0xAAAA")

	require.NoError(t, r.Create(s))

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "0xAAAA", got.ParticipantAddress)
	assert.Equal(t, 1, r.Len())
}

func TestGetNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCreateDuplicateParticipant(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAbCd")))

	// Same address, different casing
	err := r.Create(newSession("s2", "0xABCD"))

	var dup *domain.DuplicateSessionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "s1", dup.ExistingSessionID)
	assert.Equal(t, 1, r.Len(), "failed create must not mutate the registry")
}

func TestGetByParticipantCaseInsensitive(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAbCd")))

	got, err := r.GetByParticipant("0xaBcD")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	_, err = r.GetByParticipant("0xother")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestIncrementUsage(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))

	got, err := r.IncrementUsage("s1", dec("0.001"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.UsageCount)
	assert.True(t, got.TotalCost.Equal(dec("0.001")))

	got, err = r.IncrementUsage("s1", dec("0.002"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.UsageCount)
	assert.True(t, got.TotalCost.Equal(dec("0.003")))
}

func TestIncrementUsageInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))

	_, err := r.IncrementUsage("s1", dec("0.009"))
	require.NoError(t, err)

	_, err = r.IncrementUsage("s1", dec("0.002"))
	var insufficient *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Requested.Equal(dec("0.002")))
	assert.True(t, insufficient.Available.Equal(dec("0.001")))
	assert.True(t, insufficient.Shortfall().Equal(dec("0.001")))

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.UsageCount, "rejected increment must not change usage count")
	assert.True(t, got.TotalCost.Equal(dec("0.009")), "rejected increment must not change total cost")
}

func TestIncrementUsageExhaustsCapExactly(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))

	for i := 0; i < 10; i++ {
		_, err := r.IncrementUsage("s1", dec("0.001"))
		require.NoError(t, err, "increment %d should fit the cap", i+1)
	}

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.UsageCount)
	assert.True(t, got.TotalCost.Equal(dec("0.01")))

	_, err = r.IncrementUsage("s1", dec("0.001"))
	var insufficient *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.IsZero())
}

func TestIncrementUsageNotFound(t *testing.T) {
	r := New()
	_, err := r.IncrementUsage("missing", dec("0.001"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCreateStoresACopy(t *testing.T) {
	r := New()
	s := newSession("s1", "0xAAAA")
	require.NoError(t, r.Create(s))

	_, err := r.IncrementUsage("s1", dec("0.001"))
	require.NoError(t, err)

	// The registry owns its record; the caller's handle stays untouched.
	assert.Equal(t, uint64(0), s.UsageCount)
	assert.True(t, s.TotalCost.IsZero())
}

func TestRemoveReturnsFinalState(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))

	_, err := r.IncrementUsage("s1", dec("0.003"))
	require.NoError(t, err)

	final, err := r.Remove("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), final.UsageCount)
	assert.True(t, final.TotalCost.Equal(dec("0.003")))
	assert.Equal(t, 0, r.Len())

	_, err = r.IncrementUsage("s1", dec("0.001"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = r.Remove("s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRemoveBlocksIncrementThroughStaleHandle(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))

	// Simulate a racing increment that looked the entry up before removal.
	e, ok := r.lookup("s1")
	require.True(t, ok)

	_, err := r.Remove("s1")
	require.NoError(t, err)

	e.mu.Lock()
	deleted := e.deleted
	e.mu.Unlock()
	assert.True(t, deleted)

	_, err = r.IncrementUsage("s1", dec("0.001"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDeleteIdempotent(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))

	assert.True(t, r.Delete("s1"))
	assert.False(t, r.Delete("s1"))
	assert.Equal(t, 0, r.Len())

	_, err := r.Get("s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDeleteBlocksResurrectionThroughStaleHandle(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))

	// Simulate a racing increment that looked the entry up before deletion.
	e, ok := r.lookup("s1")
	require.True(t, ok)
	require.True(t, r.Delete("s1"))

	e.mu.Lock()
	deleted := e.deleted
	e.mu.Unlock()
	assert.True(t, deleted)

	_, err := r.IncrementUsage("s1", dec("0.001"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestListSnapshot(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))
	require.NoError(t, r.Create(newSession("s2", "0xCCCC")))

	sessions := r.List()
	assert.Len(t, sessions, 2)

	// Mutating the snapshot must not affect the registry.
	sessions[0].UsageCount = 99
	for _, id := range []string{"s1", "s2"} {
		got, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), got.UsageCount)
	}
}

// Two concurrent increments on the same session must never both pass the
// balance check against the same stale total.
func TestConcurrentIncrementsRespectCap(t *testing.T) {
	r := New()
	s := newSession("s1", "0xAAAA")
	s.InitialAllocation = dec("0.005")
	require.NoError(t, r.Create(s))

	const workers = 20
	cost := dec("0.001")

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.IncrementUsage("s1", cost)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var applied, rejected int
	for err := range results {
		if err == nil {
			applied++
			continue
		}
		var insufficient *domain.InsufficientBalanceError
		require.ErrorAs(t, err, &insufficient)
		rejected++
	}

	assert.Equal(t, 5, applied, "exactly cap/cost increments may pass")
	assert.Equal(t, workers-5, rejected)

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.UsageCount)
	assert.True(t, got.TotalCost.Equal(dec("0.005")))
}

// Concurrent creates for the same address: exactly one wins.
func TestConcurrentCreateSameParticipant(t *testing.T) {
	r := New()

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results <- r.Create(newSession(fmt.Sprintf("s%d", n), "0xAAAA"))
		}(i)
	}
	wg.Wait()
	close(results)

	var created, duplicates int
	for err := range results {
		if err == nil {
			created++
			continue
		}
		var dup *domain.DuplicateSessionError
		require.ErrorAs(t, err, &dup)
		duplicates++
	}

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicates)
	assert.Equal(t, 1, r.Len())
}

// Operations on different sessions proceed independently.
func TestConcurrentOperationsAcrossSessions(t *testing.T) {
	r := New()
	const sessions = 8

	for i := 0; i < sessions; i++ {
		require.NoError(t, r.Create(newSession(fmt.Sprintf("s%d", i), fmt.Sprintf("0xADDR%02d", i))))
	}

	var wg sync.WaitGroup
	var failed sync.Map
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := r.IncrementUsage(id, dec("0.001")); err != nil {
					failed.Store(id, err)
					return
				}
			}
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()

	failed.Range(func(key, value any) bool {
		t.Errorf("session %v failed: %v", key, value)
		return true
	})

	for i := 0; i < sessions; i++ {
		got, err := r.Get(fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(10), got.UsageCount)
		assert.True(t, got.TotalCost.Equal(dec("0.01")))
	}
}

func TestCreateAfterDeleteAllowsNewSession(t *testing.T) {
	r := New()
	require.NoError(t, r.Create(newSession("s1", "0xAAAA")))
	require.True(t, r.Delete("s1"))

	err := r.Create(newSession("s2", "0xAAAA"))
	require.NoError(t, err)

	got, err := r.GetByParticipant("0xaaaa")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.ID)
}
