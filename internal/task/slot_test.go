package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffReadyTrueBeforeAnyExit(t *testing.T) {
	s := &ProcessSlot{}
	assert.True(t, s.backoffReady(time.Now()))
}

func TestBackoffReadyFalseWithinWindow(t *testing.T) {
	s := &ProcessSlot{Exited: time.Now()}
	assert.False(t, s.backoffReady(time.Now()))
}

func TestBackoffReadyTrueAfterWindow(t *testing.T) {
	s := &ProcessSlot{Exited: time.Now().Add(-10 * time.Second)}
	assert.True(t, s.backoffReady(time.Now()))
}

func TestBackoffReadyResetsOnClockRewind(t *testing.T) {
	future := time.Now().Add(time.Hour)
	s := &ProcessSlot{Exited: future}
	now := time.Now()
	assert.False(t, s.backoffReady(now))
	assert.Equal(t, now, s.Exited)
}

func TestLiveReflectsPid(t *testing.T) {
	s := &ProcessSlot{}
	assert.False(t, s.Live())
	s.Pid = 1234
	assert.True(t, s.Live())
}
