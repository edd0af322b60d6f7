package tilesource_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilecache-microservice/internal/domain/repository"
	"github.com/tilecache-microservice/internal/infrastructure/tilesource"
	"go.uber.org/zap"
)

func TestFetchReturnsTileBytes(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png bytes"))
	}))
	defer srv.Close()

	client := tilesource.NewClient("tilecache-test/1.0", zap.NewNop())
	data, err := client.Fetch(context.Background(), srv.URL+"/10/550/335.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), data)
	assert.Equal(t, "tilecache-test/1.0", gotUA)
}

func TestFetchClassifiesClientErrorsAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := tilesource.NewClient("tilecache-test/1.0", zap.NewNop())
	_, err := client.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrPermanentFetch), "404 should not be retried")
}

func TestFetchTreatsServerErrorsAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := tilesource.NewClient("tilecache-test/1.0", zap.NewNop())
	_, err := client.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.False(t, errors.Is(err, repository.ErrPermanentFetch), "503 stays retryable")
}

func TestFetchRejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := tilesource.NewClient("tilecache-test/1.0", zap.NewNop())
	_, err := client.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestFetchHonoursContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := tilesource.NewClient("tilecache-test/1.0", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, srv.URL)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, repository.ErrPermanentFetch))
}
