package flashfs

import (
	"errors"
	"fmt"
)

var _ BlockDevice = (*BytesBlocks)(nil)

// BytesBlocks is a RAM backed flash device. Programming follows flash rules: bits can
// only be moved away from the erased value, so rewriting a byte without erasing its
// block first stores the AND (or OR for ErasedZeros) of old and new values.
type BytesBlocks struct {
	blk    blkIdxer
	buf    []byte
	erased byte
	erases []int
}

// NewBytesBlocks returns an erased device of blockCount blocks of blockSize bytes.
// blockSize must be a power of 2.
func NewBytesBlocks(blockSize, blockCount int, erased Erased) (*BytesBlocks, error) {
	blk, err := makeBlockIndexer(blockSize)
	if err != nil {
		return nil, err
	} else if blockCount <= 0 {
		return nil, errors.New("blockCount must be positive")
	}
	b := &BytesBlocks{
		blk:    blk,
		buf:    make([]byte, blockSize*blockCount),
		erased: erased.value(),
		erases: make([]int, blockCount),
	}
	b.fill(b.buf)
	return b, nil
}

func (b *BytesBlocks) BlockSize() int  { return b.blk.size() }
func (b *BytesBlocks) BlockCount() int { return len(b.erases) }

func (b *BytesBlocks) span(block, off, n int) (start, end int, err error) {
	if block < 0 || block >= len(b.erases) {
		return 0, 0, fmt.Errorf("block %d out of range [0,%d)", block, len(b.erases))
	} else if off < 0 || off+n > b.blk.size() {
		return 0, 0, fmt.Errorf("access [%d,%d) crosses block boundary", off, off+n)
	}
	start = block*b.blk.size() + off
	return start, start + n, nil
}

func (b *BytesBlocks) ReadBlock(dst []byte, block, off int) error {
	start, end, err := b.span(block, off, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b.buf[start:end])
	return nil
}

func (b *BytesBlocks) ProgramBlock(data []byte, block, off int) error {
	start, _, err := b.span(block, off, len(data))
	if err != nil {
		return err
	}
	dst := b.buf[start:]
	for i, v := range data {
		if b.erased == 0xff {
			dst[i] &= v
		} else {
			dst[i] |= v
		}
	}
	return nil
}

func (b *BytesBlocks) EraseBlock(block int) error {
	start, end, err := b.span(block, 0, b.blk.size())
	if err != nil {
		return err
	}
	b.fill(b.buf[start:end])
	b.erases[block]++
	return nil
}

func (b *BytesBlocks) EraseAll() error {
	b.fill(b.buf)
	for i := range b.erases {
		b.erases[i]++
	}
	return nil
}

// EraseCount returns the number of times block was erased.
func (b *BytesBlocks) EraseCount(block int) int {
	return b.erases[block]
}

// Bytes returns the device contents. Modifying the returned slice modifies the device.
func (b *BytesBlocks) Bytes() []byte { return b.buf }

func (b *BytesBlocks) fill(buf []byte) {
	for i := range buf {
		buf[i] = b.erased
	}
}
