package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestBackendFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "issuer.log")

	b, err := New(f, "NOTICE", false)
	require.NoError(t, err)

	l := b.GetLogger("test")
	l.Notice("visible")
	l.Debug("hidden")
	require.True(t, b.IsEnabledFor(logging.NOTICE, "test"))
	require.False(t, b.IsEnabledFor(logging.DEBUG, "test"))

	require.NoError(t, b.Rotate())
	l.Warning("after rotate")
	require.NoError(t, b.Close())

	data, err := os.ReadFile(f)
	require.NoError(t, err)
	require.Contains(t, string(data), "NOTI test: visible")
	require.Contains(t, string(data), "WARN test: after rotate")
	require.NotContains(t, string(data), "hidden")
}

func TestInvalidLevel(t *testing.T) {
	_, err := New("", "LOUD", false)
	require.Error(t, err)
	require.Error(t, ValidateLevel("LOUD"))
	require.NoError(t, ValidateLevel("debug"))
}

func TestDiscard(t *testing.T) {
	l := NewDiscard("test")
	l.Error("dropped")
}
