package numbering

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/repository/memory"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

func fixedClock(year int) func() time.Time {
	return func() time.Time { return time.Date(year, 3, 14, 12, 0, 0, 0, time.UTC) }
}

func TestGenerator_FormatsYearAndPaddedSequence(t *testing.T) {
	gen := NewGenerator(NewCounter(nil), fixedClock(2026))

	first, err := gen.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Number{Value: "WO-2026-0001", Year: 2026, Seq: 1}, first)

	second, err := gen.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "WO-2026-0002", second.Value)
}

func TestFormat_GrowsPastFourDigits(t *testing.T) {
	assert.Equal(t, "WO-2026-12345", Format(2026, 12345))
}

func TestParseNumber(t *testing.T) {
	year, seq, err := ParseNumber("WO-2025-0042")
	require.NoError(t, err)
	assert.Equal(t, 2025, year)
	assert.Equal(t, int64(42), seq)

	for _, bad := range []string{"", "WO-2025", "XX-2025-0001", "WO-25-0001", "WO-2025-abc", "WO-2025-0000", "WO-2025-12"} {
		_, _, err := ParseNumber(bad)
		assert.ErrorIs(t, err, apperrors.ErrValidation, bad)
	}
}

func TestGenerator_PropagatesSequenceErrors(t *testing.T) {
	gen := NewGenerator(failingSequence{}, fixedClock(2026))
	_, err := gen.Next(context.Background())
	assert.ErrorContains(t, err, "sequence down")
}

type failingSequence struct{}

func (failingSequence) Next(context.Context, int) (int64, error) {
	return 0, errors.New("sequence down")
}

func TestCounter_SeedsFromPersistedMaximum(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Create(ctx, &domain.WorkOrder{ID: "a", Number: "WO-2026-0007", NumberYear: 2026, NumberSeq: 7, Version: 1}))

	counter := NewCounter(store)
	next, err := counter.Next(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(8), next)

	fresh, err := counter.Next(ctx, 2027)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh)
}

func TestSequences_AreInjectiveAndIncreasingUnderConcurrency(t *testing.T) {
	store := memory.New()
	cases := map[string]Sequence{
		"counter": NewCounter(store),
		"store":   NewStoreSequence(store),
	}
	for name, seq := range cases {
		t.Run(name, func(t *testing.T) {
			assertInjective(t, seq, 2026)
		})
	}
}

func assertInjective(t *testing.T, seq Sequence, year int) {
	t.Helper()
	const workers, perWorker = 8, 50
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev int64
			for range perWorker {
				v, err := seq.Next(ctx, year)
				if !assert.NoError(t, err) {
					return
				}
				assert.Greater(t, v, prev)
				prev = v
				mu.Lock()
				assert.False(t, seen[v], "duplicate value %d", v)
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: net.JoinHostPort(host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisSequence(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Create(ctx, &domain.WorkOrder{ID: "a", Number: "WO-2026-0041", NumberYear: 2026, NumberSeq: 41, Version: 1}))

	seq := NewRedisSequence(client, store)
	next, err := seq.Next(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(42), next)

	// A second replica seeding with a lower floor must not rewind the counter.
	other := NewRedisSequence(client, memory.New())
	next, err = other.Next(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(43), next)

	assertInjective(t, seq, 2031)

	ttl, err := client.TTL(ctx, fmt.Sprintf("wo:seq:%d", 2026)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
