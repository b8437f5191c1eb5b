package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter("info", "json", &buf)
	require.NoError(t, err)

	log.Logger.Debug("hidden")
	log.Logger.Info("visible")
	log.SugaredLogger.Infof("formatted %d", 42)
	Flush(log.Logger)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "visible", entry["msg"])
	assert.Contains(t, entry, "ts")
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New("loud", "json")
	require.Error(t, err)

	_, err = New("info", "xml")
	require.Error(t, err)
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewWithWriter("debug", "json", &buf)
	require.NoError(t, err)

	assert.Same(t, base.Logger, FromContext(context.Background(), base))
	assert.NotNil(t, FromContext(context.Background(), nil))

	scoped := WithRequestID(base.Logger, "abc")
	ctx := WithContext(context.Background(), scoped)
	FromContext(ctx, base).Info("scoped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "abc", entry["req_id"])
}
