package exitstatus

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribeExitedOk(t *testing.T) {
	ws := syscall.WaitStatus(0) // exit code 0
	assert.Equal(t, "exited ok", Describe(ws))
}

func TestDescribeExitedNonZero(t *testing.T) {
	ws := syscall.WaitStatus(3 << 8) // exit code 3
	assert.Equal(t, "exited 3", Describe(ws))
}

func TestDescribeSignaled(t *testing.T) {
	ws := syscall.WaitStatus(syscall.SIGKILL)
	assert.Contains(t, Describe(ws), "died on")
}
