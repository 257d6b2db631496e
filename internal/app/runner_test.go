package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	api := newMockAPI()
	api.snapshots[1] = snapshotOf(1, candle(1000, 1, 2, 1, 2))
	f := newFixture(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, f.view, 1) }()

	f.eventually(t, loaded, "view mounted by Run")
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
	assert.Error(t, f.view.Reconnect(context.Background()), "view unmounted")
}

func TestRun_MountFailure(t *testing.T) {
	f := newFixture(t, newMockAPI())
	f.transport.setDialErr(errors.New("connection refused"))

	err := Run(context.Background(), f.view, 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mount market view")
}
