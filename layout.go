package flashfs

import (
	"encoding/binary"
)

// On-device layout. All multi-byte fields are little endian and packed.
//
//	block header:  status[1] jump[2]            (file table blocks)
//	               status[1] jump[2] vaddr[4]   (data blocks)
//	chunk:         nBytes[1] data[nBytes-1]     nBytes counts the header, max 254.
//	table entry:   startblock[2] filename[NameLen]
const (
	offStatus = 0
	offJump   = 1
	offVaddr  = 3

	sizeShortHeader = 3
	sizeHeader      = 7
	sizeChunkHeader = 1
	sizeFTEStart    = 2

	maxChunkLen = 254
)

// status is the decoded status byte of a block header. On the device each
// status is stored as the erased value XOR its code: the low nibble tells
// EOF from JUMP and the high nibble flags file table blocks.
type status uint8

const (
	statusUnused status = iota
	statusEOF
	statusJump
	statusFTEOF
	statusFTJump
	statusInvalid
)

func (st status) code() byte {
	switch st {
	case statusEOF:
		return 0x01
	case statusJump:
		return 0x03
	case statusFTEOF:
		return 0x11
	case statusFTJump:
		return 0x13
	}
	return 0x00
}

func (st status) String() string {
	switch st {
	case statusUnused:
		return "unused"
	case statusEOF:
		return "eof"
	case statusJump:
		return "jump"
	case statusFTEOF:
		return "ft-eof"
	case statusFTJump:
		return "ft-jump"
	}
	return "invalid"
}

func (fsys *FS) encodeStatus(st status) byte { return fsys.erased ^ st.code() }

func (fsys *FS) decodeStatus(b byte) status {
	switch b ^ fsys.erased {
	case 0x00:
		return statusUnused
	case 0x01:
		return statusEOF
	case 0x03:
		return statusJump
	case 0x11:
		return statusFTEOF
	case 0x13:
		return statusFTJump
	}
	return statusInvalid
}

// isTableMarker reports whether the status byte has the file table flag set.
func (fsys *FS) isTableMarker(b byte) bool {
	return (b^fsys.erased)&0xf0 == 0x10
}

// uninit16 is the erased 16 bit pattern: an entry that was never used, or a jump
// field that was never written.
func (fsys *FS) uninit16() uint16 { return uint16(fsys.erased)<<8 | uint16(fsys.erased) }

// null16 marks a deleted table entry.
func (fsys *FS) null16() uint16 { return ^fsys.uninit16() }

type blockHeader struct {
	status status
	jump   blkidx // Valid for statusJump and statusFTJump.
	vaddr  uint32 // Data blocks only.
}

func (fsys *FS) read_header(b blkidx) (blockHeader, error) {
	var buf [sizeHeader]byte
	if err := fsys.read(fsys.blk.addr(b), buf[:]); err != nil {
		return blockHeader{}, err
	}
	return blockHeader{
		status: fsys.decodeStatus(buf[offStatus]),
		jump:   blkidx(binary.LittleEndian.Uint16(buf[offJump:])),
		vaddr:  binary.LittleEndian.Uint32(buf[offVaddr:]),
	}, nil
}

func (fsys *FS) block_status(b blkidx) (status, error) {
	var buf [1]byte
	if err := fsys.read(fsys.blk.addr(b)+offStatus, buf[:]); err != nil {
		return statusInvalid, err
	}
	return fsys.decodeStatus(buf[0]), nil
}

// put_status claims block b by writing only its status byte.
func (fsys *FS) put_status(b blkidx, st status) error {
	buf := [1]byte{fsys.encodeStatus(st)}
	return fsys.write(fsys.blk.addr(b)+offStatus, buf[:])
}

// put_jump marks block b as full and chains it to next.
func (fsys *FS) put_jump(b blkidx, st status, next blkidx) error {
	var buf [sizeShortHeader]byte
	buf[offStatus] = fsys.encodeStatus(st)
	binary.LittleEndian.PutUint16(buf[offJump:], uint16(next))
	return fsys.write(fsys.blk.addr(b), buf[:])
}

// put_data_header claims b as the last block of a file whose data
// starting at the block represents file offset vaddr.
func (fsys *FS) put_data_header(b blkidx, vaddr uint32) error {
	var buf [sizeHeader]byte
	buf[offStatus] = fsys.encodeStatus(statusEOF)
	binary.LittleEndian.PutUint16(buf[offJump:], fsys.uninit16())
	binary.LittleEndian.PutUint32(buf[offVaddr:], vaddr)
	return fsys.write(fsys.blk.addr(b), buf[:])
}

// read_chunk returns the raw chunk header byte at addr.
func (fsys *FS) read_chunk(addr hwaddr) (byte, error) {
	var buf [sizeChunkHeader]byte
	err := fsys.read(addr, buf[:])
	return buf[0], err
}

func (fsys *FS) put_chunk(addr hwaddr, nBytes uint8) error {
	buf := [sizeChunkHeader]byte{nBytes}
	return fsys.write(addr, buf[:])
}

// validChunk reports whether a written chunk header is well formed.
func validChunk(nBytes byte) bool {
	return nBytes >= sizeChunkHeader && nBytes <= maxChunkLen
}

// entryaddr returns the address of entry i of file table block b.
func (fsys *FS) entryaddr(b blkidx, i int) hwaddr {
	return fsys.blk.addr(b) + sizeShortHeader + hwaddr(i*fsys.ftesize)
}

type fteKind uint8

const (
	fteUnused fteKind = iota // Never used. Marks the end of the table.
	fteDeleted
	fteLive
)

func (fsys *FS) fteKind(startblock uint16) fteKind {
	switch startblock {
	case fsys.uninit16():
		return fteUnused
	case fsys.null16():
		return fteDeleted
	}
	return fteLive
}
