package signals

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherFirstThenSecond(t *testing.T) {
	w := NewWatcher()

	var closed bool
	w.AddOnClose(func() { closed = true })

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-w.First():
	case <-time.After(2 * time.Second):
		t.Fatal("First() did not close after one signal")
	}
	assert.True(t, closed, "AddOnClose closures must run on the first signal")

	select {
	case <-w.Second():
		t.Fatal("Second() closed before a second signal was sent")
	default:
	}

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-w.Second():
	case <-time.After(2 * time.Second):
		t.Fatal("Second() did not close after a second signal")
	}
}
