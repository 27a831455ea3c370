package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/ledger/log"
)

func TestWriterLogger_FieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWriterLogger(&buf, zerolog.DebugLevel).With(log.Fields{"component": "tokenstore"})

	logger.Error(context.Background(), "decrypt failed", errors.New("boom"), log.Fields{"tenant_id": "42"})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "decrypt failed", line["message"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "42", line["tenant_id"])
	assert.Equal(t, "tokenstore", line["component"])
	assert.Equal(t, "error", line["level"])
}

func TestWriterLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWriterLogger(&buf, zerolog.WarnLevel)

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	logger.Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, log.ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, log.ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, log.ParseLevel("not-a-level"))
}
