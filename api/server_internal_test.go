package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StopReportsServeFailure(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, http.NotFoundHandler())
	require.NoError(t, srv.Start(context.Background()))

	// Serve fails with a non-shutdown error once its listener goes away.
	require.NoError(t, srv.ln.Close())

	err := srv.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use of closed network connection")

	_, open := <-srv.Err()
	assert.False(t, open)
}

func TestServer_StopWithoutStart(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, http.NotFoundHandler())

	done := make(chan error, 1)
	go func() { done <- srv.Stop(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a server that never started")
	}
}
