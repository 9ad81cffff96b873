package imagedev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesErasedImage(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "flash.img")
	geo := Geometry{BlockSize: 64, BlockCount: 4, Erased: 0xff}

	d, err := Open(path, geo)
	require.NoError(err)
	require.True(d.Created())
	require.Equal(64, d.BlockSize())
	require.Equal(4, d.BlockCount())
	require.NoError(d.Close())

	data, err := os.ReadFile(path)
	require.NoError(err)
	require.Len(data, 256)
	for _, b := range data {
		require.Equal(byte(0xff), b)
	}
}

func TestProgramFollowsFlashRules(t *testing.T) {
	for _, erased := range []byte{0xff, 0x00} {
		require := require.New(t)
		d, err := Open(filepath.Join(t.TempDir(), "flash.img"), Geometry{BlockSize: 32, BlockCount: 2, Erased: erased})
		require.NoError(err)

		require.NoError(d.ProgramBlock([]byte{0xf0}, 1, 3))
		require.NoError(d.ProgramBlock([]byte{0x3c}, 1, 3))
		var got [1]byte
		require.NoError(d.ReadBlock(got[:], 1, 3))
		if erased == 0xff {
			require.Equal(byte(0x30), got[0])
		} else {
			require.Equal(byte(0xfc), got[0])
		}

		require.NoError(d.EraseBlock(1))
		require.NoError(d.ReadBlock(got[:], 1, 3))
		require.Equal(erased, got[0])
		require.NoError(d.Close())
	}
}

func TestReopenKeepsContents(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "flash.img")
	geo := Geometry{BlockSize: 32, BlockCount: 2, Erased: 0xff}

	d, err := Open(path, geo)
	require.NoError(err)
	require.NoError(d.ProgramBlock([]byte("abc"), 0, 10))
	require.NoError(d.Sync())
	require.NoError(d.Close())

	d, err = Open(path, geo)
	require.NoError(err)
	defer d.Close()
	require.False(d.Created())
	got := make([]byte, 3)
	require.NoError(d.ReadBlock(got, 0, 10))
	require.Equal("abc", string(got))
}

func TestOpenErrors(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "flash.img")

	_, err := Open(path, Geometry{BlockSize: 48, BlockCount: 2, Erased: 0xff})
	require.Error(err)
	_, err = Open(path, Geometry{BlockSize: 32, BlockCount: 2, Erased: 0x7f})
	require.Error(err)

	d, err := Open(path, Geometry{BlockSize: 32, BlockCount: 2, Erased: 0xff})
	require.NoError(err)
	require.Error(d.ReadBlock(make([]byte, 4), 2, 0))
	require.Error(d.ProgramBlock(make([]byte, 4), 0, 30))
	require.NoError(d.Close())

	_, err = Open(path, Geometry{BlockSize: 32, BlockCount: 3, Erased: 0xff})
	require.Error(err, "size mismatch")
}
