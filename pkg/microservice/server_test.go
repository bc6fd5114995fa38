package microservice_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/illmade-knight/go-queryflow/pkg/microservice"
	"github.com/illmade-knight/go-queryflow/pkg/query"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseServer_Lifecycle(t *testing.T) {
	// Arrange
	server := microservice.NewBaseServer(zerolog.Nop(), ":0")

	// Act
	require.NoError(t, server.Start())
	port := server.GetHTTPPort()

	// Assert
	require.NotEqual(t, ":0", port)
	resp, err := http.Get("http://localhost" + port + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	_, err = http.Get("http://localhost" + port + "/healthz")
	assert.Error(t, err, "server should no longer accept connections")
}

func TestQueryService_ShutdownEndsEventStreams(t *testing.T) {
	// Arrange
	f := newFixture(t)
	svc := microservice.NewQueryService(":0", f.store, []query.Query{f.dog}, nil, zerolog.Nop())
	require.NoError(t, svc.Start())

	resp, err := http.Get("http://localhost" + svc.GetHTTPPort() + "/queries/dog/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	events := readEvents(resp.Body)
	require.Equal(t, "idle", nextStatus(t, events))

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = svc.Shutdown(ctx)

	// Assert
	require.NoError(t, err, "open streams must not hold shutdown until the deadline")
	select {
	case _, ok := <-events:
		assert.False(t, ok, "stream should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("event stream still open after shutdown")
	}
}
