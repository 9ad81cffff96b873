package flashfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesBlocks(t *testing.T) {
	require := require.New(t)
	_, err := NewBytesBlocks(100, 4, ErasedOnes)
	require.Error(err, "block size not a power of 2")
	_, err = NewBytesBlocks(64, 0, ErasedOnes)
	require.Error(err)

	for _, erased := range []Erased{ErasedOnes, ErasedZeros} {
		dev, err := NewBytesBlocks(32, 4, erased)
		require.NoError(err)
		require.Equal(32, dev.BlockSize())
		require.Equal(4, dev.BlockCount())
		e := erased.value()
		for _, b := range dev.Bytes() {
			require.Equal(e, b)
		}

		require.NoError(dev.ProgramBlock([]byte{0xf0, 0x0f}, 2, 30))
		require.NoError(dev.ProgramBlock([]byte{0x3c}, 2, 30))
		got := make([]byte, 2)
		require.NoError(dev.ReadBlock(got, 2, 30))
		if erased == ErasedOnes {
			require.Equal([]byte{0x30, 0x0f}, got, "bits only cleared")
		} else {
			require.Equal([]byte{0xfc, 0x0f}, got, "bits only set")
		}

		require.NoError(dev.EraseBlock(2))
		require.NoError(dev.ReadBlock(got, 2, 30))
		require.Equal([]byte{e, e}, got)
		require.Equal(1, dev.EraseCount(2))
		require.Zero(dev.EraseCount(1))
		require.NoError(dev.EraseAll())
		require.Equal(2, dev.EraseCount(2))

		require.Error(dev.ReadBlock(got, 4, 0))
		require.Error(dev.ReadBlock(got, -1, 0))
		require.Error(dev.ProgramBlock(got, 0, 31), "crosses block boundary")
		require.Error(dev.EraseBlock(4))
	}
}
