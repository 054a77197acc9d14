package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callqa-server/pkg/errors"
)

func TestParseValidFilename(t *testing.T) {
	meta, err := Parse("[Doe, Jane]_A1023-07700900123_20260812143005(CALL-9876).wav")
	require.NoError(t, err)

	assert.Equal(t, "Doe, Jane", meta.AgentName)
	assert.Equal(t, "A1023", meta.AgentID)
	assert.Equal(t, "07700900123", meta.Phone)
	assert.Equal(t, "CALL-9876", meta.CallID)

	want := time.Date(2026, 8, 12, 14, 30, 5, 0, time.Local)
	assert.True(t, meta.Timestamp.Equal(want), "timestamp mismatch: %s", meta.Timestamp)
}

func TestParseStripsPathComponents(t *testing.T) {
	meta, err := Parse("/tmp/incoming/[Smith, Bob]_77-0123456789_20250101000000(X1).wav")
	require.NoError(t, err)
	assert.Equal(t, "Smith, Bob", meta.AgentName)
	assert.Equal(t, "77", meta.AgentID)
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name     string
		filename string
	}{
		{"empty", ""},
		{"plain name", "recording.wav"},
		{"missing brackets", "Doe, Jane_A1023-07700900123_20260812143005(CALL-9876).wav"},
		{"missing call id", "[Doe, Jane]_A1023-07700900123_20260812143005.wav"},
		{"short timestamp", "[Doe, Jane]_A1023-07700900123_2026(CALL-9876).wav"},
		{"wrong extension", "[Doe, Jane]_A1023-07700900123_20260812143005(CALL-9876).mp3"},
		{"invalid month", "[Doe, Jane]_A1023-07700900123_20261312143005(CALL-9876).wav"},
		{"garbage bytes", "\x00\xff\xfe"},
		{"only brackets", "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := Parse(tt.filename)
			require.Error(t, err)
			assert.Nil(t, meta)
			assert.True(t, errors.IsErrorType(err, errors.ErrParseFailure),
				"expected typed parse failure, got: %v", err)
		})
	}
}
