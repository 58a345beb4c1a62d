package oracle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriceID(t *testing.T) {
	id, err := ParsePriceID("wrap.near")
	require.NoError(t, err)
	assert.Equal(t, PriceID{AssetID: "wrap.near"}, id)
	assert.False(t, id.HasPeriod())

	id, err = ParsePriceID("wrap.near#3600")
	require.NoError(t, err)
	assert.Equal(t, PriceID{AssetID: "wrap.near", Period: 3600}, id)
	assert.Equal(t, "wrap.near#3600", id.String())

	for _, raw := range []string{"", "#60", "wrap.near#", "wrap.near#0", "wrap.near#abc", "wrap.near#-1", "wrap.near#4294967296", "a#1#2"} {
		_, err := ParsePriceID(raw)
		assert.True(t, errors.Is(err, ErrInvalidAssetID), "raw=%q err=%v", raw, err)
	}
}
