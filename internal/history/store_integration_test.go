package history

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/postgres"
)

// newTestStore connects to the database named by the TEST_POSTGRES_* vars
// and skips when none is reachable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	db, err := postgres.New(config.PostgresConfig{
		Host:     envOr("TEST_POSTGRES_HOST", "localhost"),
		Port:     envIntOr("TEST_POSTGRES_PORT", 5432),
		Database: envOr("TEST_POSTGRES_DB", "cusearch_test"),
		User:     envOr("TEST_POSTGRES_USER", "cusearch"),
		Password: envOr("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:  "disable",
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestStoreRecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	project := fmt.Sprintf("it-%d", time.Now().UnixNano())

	for i := 1; i <= 3; i++ {
		_, err := store.Record(ctx, Run{
			Project:     project,
			Segment:     "seg-1",
			Queries:     i,
			Returned:    1,
			CacheStatus: "miss",
			LatencyMs:   int64(i),
			Results:     []merger.Result{{ClassFQN: "com.acme.B", Signature: "b()", RelatedQueries: []string{"q1"}, Score: 0.3}},
		})
		require.NoError(t, err)
	}

	runs, err := store.Recent(ctx, project, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 3, runs[0].Queries)
	assert.Equal(t, 2, runs[1].Queries)
	assert.Equal(t, "com.acme.B", runs[0].Results[0].ClassFQN)

	none, err := store.Recent(ctx, project+"-missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}
