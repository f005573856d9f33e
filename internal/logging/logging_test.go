package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Level(t *testing.T) {
	t.Cleanup(func() { logrus.SetLevel(logrus.InfoLevel); logrus.SetOutput(os.Stderr) })

	require.NoError(t, Setup(Options{Level: "debug"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	require.NoError(t, Setup(Options{}))
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())

	assert.Error(t, Setup(Options{Level: "loud"}))
}

func TestSetup_File(t *testing.T) {
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	require.NoError(t, Setup(Options{Level: "info", File: path, MaxSizeMB: 1}))
	logrus.Info("hello from the leaderboard")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the leaderboard")
}
