package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSProcessRunCapturesStdout(t *testing.T) {
	result, err := OSProcess{}.Run(context.Background(), "echo hello", nil, "", time.Second, 0)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "hello")
	assert.Equal(t, 0, result.ReturnCode)
}

func TestOSProcessRunReportsNonZeroExit(t *testing.T) {
	result, err := OSProcess{}.Run(context.Background(), "exit 3", nil, "", time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ReturnCode)
}

func TestOSProcessRunRejectsZeroTimeout(t *testing.T) {
	_, err := OSProcess{}.Run(context.Background(), "echo hi", nil, "", 0, 0)
	assert.Error(t, err)
}

func TestOSProcessRunTimesOut(t *testing.T) {
	result, err := OSProcess{}.Run(context.Background(), "sleep 5", nil, "", 50*time.Millisecond, 0)
	require.Error(t, err)
	assert.True(t, result.TimedOut)
}

func TestMockProcessReplaysScriptedResult(t *testing.T) {
	m := NewMockProcess()
	m.Results["build"] = ProcessResult{ReturnCode: 7}
	result, err := m.Run(context.Background(), "build", nil, "", time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, result.ReturnCode)
	assert.Equal(t, []string{"build"}, m.Calls)
}
