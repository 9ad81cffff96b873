package flashfs

import (
	"context"
	"errors"
	"log/slog"
	"math/bits"
	"strconv"

	"golang.org/x/text/encoding/charmap"
)

// BlockDevice is a raw flash volume divided in equally sized erase blocks.
// Programming may only move bits away from the erased value. Erasing resets
// a whole block to the erased value. Reads and programs issued by the file
// system never cross a block boundary. BlockSize must be a power of 2 of at
// least 32 bytes, Mount rejects other geometries with ErrParam.
type BlockDevice interface {
	ReadBlock(dst []byte, block, off int) error
	ProgramBlock(data []byte, block, off int) error
	EraseBlock(block int) error
	EraseAll() error
	BlockSize() int
	BlockCount() int
}

// Erased is the byte pattern a flash device erases to.
type Erased uint8

const (
	// ErasedOnes is for devices that erase to 0xFF. This is the default.
	ErasedOnes Erased = iota
	// ErasedZeros is for devices that erase to 0x00.
	ErasedZeros
)

func (e Erased) value() byte {
	if e == ErasedZeros {
		return 0x00
	}
	return 0xff
}

// Config holds the format parameters of a volume. The zero value is
// the default layout: 0xFF erase value and 14 byte filename fields.
type Config struct {
	Erased Erased
	// NameLen is the size of the filename field in a file table entry,
	// terminating NUL included. 0 defaults to 14.
	NameLen int
	// Charmap encodes filenames into the single byte filename field.
	// nil defaults to ISO-8859-1.
	Charmap *charmap.Charmap
	Logger  *slog.Logger
}

// block index type.
type blkidx uint16

// hwaddr is a byte address on the device: block*blocksize + offset.
type hwaddr uint32

const (
	defaultNameLen = 14
	minBlockSize   = 32
	maxBlockCount  = 0xffff // Block indices must not collide with the 16 bit entry sentinels.
)

// FS is a flash file system volume. FS is not safe for concurrent use:
// callers sharing a volume between goroutines must serialize every call,
// including calls on Files opened on it.
type FS struct {
	device  BlockDevice
	blk     blkIdxer
	nblocks int
	erased  byte
	namelen int
	ftesize int // Size of a file table entry.
	nfte    int // File table entries per block.
	cmap    *charmap.Charmap
	log     *slog.Logger

	searchStart blkidx // Block where the last free block search left off.
	fileCounter int    // Index of the table entry where NextFile resumes.

	ftbuf []byte // Staging buffer for one block worth of table entries.
	id    uint16 // Mount ID. Serves to invalidate open files after mount.
}

type objid struct {
	fs *FS
	id uint16 // Corresponds to FS.id.
}

// File is an open file on a FS. The zero value is a closed file.
type File struct {
	obj   objid
	mode  Mode
	start blkidx // First block of the file's chain.
	vaddr uint32 // Offset within the file.
	addr  hwaddr
	// Write: address of the current chunk header.
	// Read: address of the next byte to read.
	n uint8
	// Write: bytes in the current chunk, header included.
	//  = 0:     block is full, addr points to the block start. Next write chains a block.
	//  = 1:     chunk open with no data yet.
	//  = 2-254: chunk holds data. Next write address is addr+n.
	// Read: bytes remaining in the current chunk.
	//  = 0:     reached the end of data. addr points to the next chunk header,
	//           or to the block start if the block is full.
	name string
}

// result is the return code of file system operations.
type result uint8

const (
	resOK       result = iota // succeeded
	resParam                  // invalid parameter or handle state
	resFull                   // no free block left
	resNotFound               // file not found
	resFail                   // device failure
	resEnd                    // end of file or file table
)

// Errors returned by file system operations.
var (
	ErrParam    error = resParam
	ErrFull     error = resFull
	ErrNotFound error = resNotFound
	ErrFail     error = resFail
	ErrEnd      error = resEnd
)

func (r result) Error() string {
	switch r {
	case resOK:
		return "flashfs: ok"
	case resParam:
		return "flashfs: invalid parameter"
	case resFull:
		return "flashfs: volume full"
	case resNotFound:
		return "flashfs: file not found"
	case resFail:
		return "flashfs: device failure"
	case resEnd:
		return "flashfs: end reached"
	}
	return "flashfs.res:" + strconv.Itoa(int(r))
}

// DeviceError is returned when the underlying BlockDevice fails.
// It matches ErrFail with errors.Is.
type DeviceError struct {
	Op    string
	Block int
	Err   error
}

func (e *DeviceError) Error() string {
	return "flashfs: " + e.Op + " block " + strconv.Itoa(e.Block) + ": " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == ErrFail }

func (obj *objid) validate() error {
	if obj.fs == nil || obj.fs.device == nil || obj.id != obj.fs.id {
		return resParam
	}
	return nil
}

// configure sets the volume geometry from bd and cfg.
func (fsys *FS) configure(bd BlockDevice, cfg Config) error {
	fsys.device = nil // Invalidate any previous mount.
	fsys.log = cfg.Logger
	bs, nblocks := bd.BlockSize(), bd.BlockCount()
	blk, err := makeBlockIndexer(bs)
	if err != nil || bs < minBlockSize || nblocks < 2 || nblocks > maxBlockCount ||
		int64(bs)*int64(nblocks) > 1<<32 {
		fsys.logerror("mount:geometry", slog.Int("blocksize", bs), slog.Int("blocks", nblocks))
		return resParam
	}
	namelen := cfg.NameLen
	if namelen == 0 {
		namelen = defaultNameLen
	}
	if namelen < 2 || sizeShortHeader+sizeFTEStart+namelen > bs {
		return resParam
	}
	fsys.blk = blk
	fsys.nblocks = nblocks
	fsys.erased = cfg.Erased.value()
	fsys.namelen = namelen
	fsys.ftesize = sizeFTEStart + namelen
	fsys.nfte = (bs - sizeShortHeader) / fsys.ftesize
	fsys.cmap = cfg.Charmap
	if fsys.cmap == nil {
		fsys.cmap = charmap.ISO8859_1
	}
	if len(fsys.ftbuf) < fsys.nfte*fsys.ftesize {
		fsys.ftbuf = make([]byte, fsys.nfte*fsys.ftesize)
	}
	fsys.device = bd
	return nil
}

// format_volume erases the whole device and writes an empty file table.
func (fsys *FS) format_volume() error {
	fsys.warn("format", slog.Int("blocks", fsys.nblocks), slog.Int("blocksize", fsys.blk.size()))
	if err := fsys.device.EraseAll(); err != nil {
		fsys.logerror("format:eraseall", slog.String("err", err.Error()))
		return &DeviceError{Op: "erase all", Block: 0, Err: err}
	}
	return fsys.put_status(0, statusFTEOF)
}

// mount_volume initializes the FS on bd. If block 0 does not carry a file table
// marker the whole device is erased and an empty table is written.
func (fsys *FS) mount_volume(bd BlockDevice, cfg Config) error {
	if err := fsys.configure(bd, cfg); err != nil {
		return err
	}
	var marker [1]byte
	if err := fsys.read(0, marker[:]); err != nil {
		fsys.device = nil
		return err
	}
	if !fsys.isTableMarker(marker[0]) {
		if err := fsys.format_volume(); err != nil {
			fsys.device = nil
			return err
		}
	}

	// Pre-search for the next unused block.
	fsys.searchStart = 0
	first, err := fsys.find_unused_block()
	switch {
	case err == nil:
		fsys.searchStart = first - 1
	case errors.Is(err, resFull):
		fsys.searchStart = 0
	default:
		fsys.device = nil
		return err
	}
	fsys.fileCounter = 0
	fsys.id++ // Increment filesystem ID, invalidates open files.
	fsys.info("mount", slog.Int("blocks", fsys.nblocks), slog.Int("blocksize", fsys.blk.size()), slog.Int("entries/block", fsys.nfte))
	return nil
}

func (fsys *FS) read(addr hwaddr, dst []byte) error {
	b := fsys.blk.idx(addr)
	if err := fsys.device.ReadBlock(dst, int(b), fsys.blk.off(addr)); err != nil {
		fsys.logerror("read", slog.Int("block", int(b)), slog.String("err", err.Error()))
		return &DeviceError{Op: "read", Block: int(b), Err: err}
	}
	return nil
}

func (fsys *FS) write(addr hwaddr, data []byte) error {
	b := fsys.blk.idx(addr)
	if err := fsys.device.ProgramBlock(data, int(b), fsys.blk.off(addr)); err != nil {
		fsys.logerror("program", slog.Int("block", int(b)), slog.String("err", err.Error()))
		return &DeviceError{Op: "program", Block: int(b), Err: err}
	}
	return nil
}

func (fsys *FS) erase(b blkidx) error {
	if err := fsys.device.EraseBlock(int(b)); err != nil {
		fsys.logerror("erase", slog.Int("block", int(b)), slog.String("err", err.Error()))
		return &DeviceError{Op: "erase", Block: int(b), Err: err}
	}
	return nil
}

func (fsys *FS) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if fsys.log == nil {
		return
	}
	fsys.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (fsys *FS) debug(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelDebug, msg, attrs...)
}
func (fsys *FS) info(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelInfo, msg, attrs...)
}
func (fsys *FS) warn(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelWarn, msg, attrs...)
}
func (fsys *FS) logerror(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelError, msg, attrs...)
}

// blkIdxer is a helper for calculating block indexes and offsets.
type blkIdxer struct {
	blockshift uint32
	blockmask  uint32
}

func makeBlockIndexer(blockSize int) (blkIdxer, error) {
	if blockSize <= 0 {
		return blkIdxer{}, errors.New("blockSize must be positive and non-zero")
	}
	tz := bits.TrailingZeros(uint(blockSize))
	if blockSize>>tz != 1 {
		return blkIdxer{}, errors.New("blockSize must be a power of 2")
	}
	blk := blkIdxer{
		blockshift: uint32(tz),
		blockmask:  (1 << tz) - 1,
	}
	return blk, nil
}

// size returns the size of a block in bytes.
func (blk *blkIdxer) size() int {
	return 1 << blk.blockshift
}

// off gets the offset of the byte at addr from the start of its block.
func (blk *blkIdxer) off(addr hwaddr) int {
	return int(uint32(addr) & blk.blockmask)
}

// idx gets the block index that contains the byte at addr.
func (blk *blkIdxer) idx(addr hwaddr) blkidx {
	return blkidx(uint32(addr) >> blk.blockshift)
}

// addr returns the address of the first byte of block b.
func (blk *blkIdxer) addr(b blkidx) hwaddr {
	return hwaddr(uint32(b) << blk.blockshift)
}
