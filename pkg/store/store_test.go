package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateNamedParams(t *testing.T) {
	sql, args, err := translateNamedParams(
		`body->>'status' = @status AND body->>'edition_id' = @edition_id`,
		map[string]any{"status": "submitted", "edition_id": "ed-1"},
	)
	require.NoError(t, err)
	assert.Equal(t, `body->>'status' = $1 AND body->>'edition_id' = $2`, sql)
	assert.Equal(t, []any{"submitted", "ed-1"}, args)
}

func TestTranslateNamedParamsMissing(t *testing.T) {
	_, _, err := translateNamedParams(`body->>'status' = @status`, map[string]any{})
	require.Error(t, err)
}

func TestShiftPlaceholders(t *testing.T) {
	assert.Equal(t, "$2 AND $3", shiftPlaceholders("$1 AND $2", 1))
	assert.Equal(t, "no placeholders", shiftPlaceholders("no placeholders", 3))
}

func TestFormatAndParseToken(t *testing.T) {
	tok := formatToken(42)
	assert.Equal(t, "42", tok)

	n, err := parseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	n, err = parseToken("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestIsEmptyFeedQuirk(t *testing.T) {
	assert.False(t, IsEmptyFeedQuirk(nil))
	assert.True(t, IsEmptyFeedQuirk(&TransportError{Op: "x", Err: assertErr("Expected HTTP/ 1.1 but got EOF")}))
	assert.False(t, IsEmptyFeedQuirk(&TransportError{Op: "x", Err: assertErr("connection refused")}))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
