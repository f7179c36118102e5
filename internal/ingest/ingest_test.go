package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/llm"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/store"
)

const pageBody = `<html><head><title>Riverside Yoga</title></head><body>
<p>Riverside Yoga is a neighborhood studio offering small-group classes. We run
morning and evening sessions, beginner courses, and private lessons. Members
book online and pay per class or by monthly pass.</p></body></html>`

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	fetcher := NewFetcher(1000)
	fetcher.skipHostCheck = true
	svc := NewService(st, fetcher, NewSummarizer(llm.Null{}))
	svc.skipRefCheck = true
	return svc, st
}

func TestIngestIdempotent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, pageBody)
	}))
	defer srv.Close()

	svc, st := newTestService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, "proj-1", 1, srv.URL, false)
	require.NoError(t, err)
	require.False(t, first.Failed)
	require.NotNil(t, first.Summary)
	assert.Equal(t, 1, first.Summary.Version)
	assert.Equal(t, model.IngestComplete, first.Artifact.IngestState)

	second, err := svc.Ingest(ctx, "proj-1", 1, srv.URL, false)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, first.Summary.Version, second.Summary.Version)

	assert.Equal(t, int32(1), hits.Load(), "second ingest must not re-fetch")

	run, err := st.GetIngestRunByKey(ctx, first.Run.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, first.Run.ID, run.ID)
}

func TestIngestForceRefreshAppendsSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, pageBody)
	}))
	defer srv.Close()

	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, "proj-1", 1, srv.URL, false)
	require.NoError(t, err)

	refreshed, err := svc.Ingest(ctx, "proj-1", 1, srv.URL, true)
	require.NoError(t, err)
	assert.False(t, refreshed.Reused)
	assert.Equal(t, first.Summary.Version+1, refreshed.Summary.Version)
}

func TestIngestBlockedHostNeverFetches(t *testing.T) {
	svc, st := newTestService(t)
	// Canonicalization must stay strict here, the point is that blocked
	// references are rejected before any fetch.
	svc.skipRefCheck = false
	ctx := context.Background()

	for _, ref := range []string{"https://127.0.0.1/", "https://10.0.0.5/"} {
		res, err := svc.Ingest(ctx, "proj-1", 1, ref, false)
		require.NoError(t, err)
		assert.True(t, res.Failed)
		assert.Equal(t, model.IngestFailed, res.Artifact.IngestState)
	}

	arts, err := st.ListArtifacts(ctx, "proj-1", 1)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	for _, a := range arts {
		assert.Equal(t, model.IngestFailed, a.IngestState)
		assert.Empty(t, a.LatestSummary)
	}
}

func TestIngestExtractTooSmallDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>tiny</body></html>")
	}))
	defer srv.Close()

	svc, _ := newTestService(t)
	res, err := svc.Ingest(context.Background(), "proj-1", 1, srv.URL, false)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, model.IngestErrExtractTooSmall, res.Run.ErrorCode)
}

func TestFallbackSummaryFrames(t *testing.T) {
	s := NewSummarizer(llm.Null{})
	res := s.Summarize(context.Background(), "https://example.com/", "Riverside Yoga",
		"First sentence here. Second sentence follows. Third one too. Fourth never shows.")
	assert.True(t, res.Fallback)
	assert.Contains(t, res.Text, "Riverside Yoga")
	assert.Contains(t, res.Text, "Third one too.")
	assert.NotContains(t, res.Text, "Fourth never shows")
	assert.Less(t, res.Confidence, 0.5)
}
