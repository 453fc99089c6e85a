package entityref

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	ref := Negotiation(snowflake.ID(42))
	parsed, err := Parse(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)
	assert.Equal(t, "negotiations", parsed.Kind.Table())
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse("invoice:12")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestScanNullIsZero(t *testing.T) {
	var ref Ref
	require.NoError(t, ref.Scan(nil))
	assert.True(t, ref.IsZero())

	value, err := ref.Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}
