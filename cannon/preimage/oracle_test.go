package preimage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawKeyPassthrough(t *testing.T) {
	var k rawKey
	k[0] = 0xAB
	k[31] = 0xCD
	require.Equal(t, [32]byte(k), k.PreimageKey())
}

func TestRawHintRendersVerbatim(t *testing.T) {
	h := rawHint("fetch-account 0xdeadbeef")
	require.Equal(t, "fetch-account 0xdeadbeef", h.Hint())
}

func TestCreateBidirectionalChannels(t *testing.T) {
	channels, err := CreateBidirectionalChannels()
	require.NoError(t, err)
	require.NotNil(t, channels.Hint.Client)
	require.NotNil(t, channels.Hint.Host)
	require.NotNil(t, channels.Preimage.Client)
	require.NotNil(t, channels.Preimage.Host)

	require.NoError(t, channels.Hint.Close())
	require.NoError(t, channels.Preimage.Close())
}
