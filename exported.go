package flashfs

import (
	"io"
	"math"
)

// Mode represents the file access mode used in OpenFile.
type Mode uint8

// File access modes for calling OpenFile.
const (
	modeClosed Mode = iota
	// ModeRead opens an existing file for reading.
	ModeRead
	// ModeAppend opens a file for writing at its end, creating it if missing.
	ModeAppend
	// ModeReplace discards the contents of an existing file, or creates it,
	// and then behaves as ModeAppend.
	ModeReplace
)

// FileInfo describes a file on the volume, see FS.Stat.
type FileInfo struct {
	name   string
	size   int64
	start  blkidx
	blocks int
}

// Mount mounts the file system on the given block device. If the device's first block
// does not hold a file table the whole device is erased and an empty volume is written.
// It immediately invalidates previously open files pointing to the same FS.
func (fsys *FS) Mount(bd BlockDevice, cfg Config) error {
	if bd == nil {
		return ErrParam
	}
	return fsys.mount_volume(bd, cfg)
}

// OpenFile opens the named file on fp. Opening an fp which is already open is an error.
func (fsys *FS) OpenFile(fp *File, name string, mode Mode) error {
	if fp == nil || fsys.device == nil {
		return ErrParam
	} else if mode < ModeRead || mode > ModeReplace {
		return ErrParam
	} else if fp.mode != modeClosed && fp.obj.validate() == nil {
		return ErrParam
	}
	return fsys.f_open(fp, name, mode)
}

// Read reads up to len(buf) bytes from the File. It implements the [io.Reader] interface.
func (fp *File) Read(buf []byte) (int, error) {
	if err := fp.obj.validate(); err != nil {
		return 0, err
	}
	br, err := fp.f_read(buf)
	if err != nil {
		return br, err
	} else if br == 0 && len(buf) > 0 {
		return br, io.EOF
	}
	return br, nil
}

// Write appends len(buf) bytes to the File. It implements the [io.Writer] interface.
// A short write returns ErrFull or the device error that stopped it.
func (fp *File) Write(buf []byte) (int, error) {
	if err := fp.obj.validate(); err != nil {
		return 0, err
	}
	bw, err := fp.f_write(buf)
	if err == nil && bw < len(buf) {
		err = ErrFull
	}
	return bw, err
}

// Seek sets the read position of the File. It implements the [io.Seeker] interface.
// Seeking past the end of the file leaves the File at its end and returns ErrEnd.
func (fp *File) Seek(offset int64, whence int) (int64, error) {
	if err := fp.obj.validate(); err != nil {
		return 0, err
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += int64(fp.vaddr)
	case io.SeekEnd:
		err := fp.f_seek(math.MaxUint32)
		if err != nil && err != resEnd {
			return int64(fp.vaddr), err
		}
		offset += int64(fp.vaddr)
	default:
		return int64(fp.vaddr), ErrParam
	}
	if offset < 0 || offset > math.MaxUint32 {
		return int64(fp.vaddr), ErrParam
	}
	err := fp.f_seek(uint32(offset))
	return int64(fp.vaddr), err
}

// Tell returns the current offset within the file.
func (fp *File) Tell() int64 {
	return int64(fp.vaddr)
}

// EOF reports whether a read mode File has reached the end of its data.
// A file open for writing is always at its end.
func (fp *File) EOF() bool {
	switch fp.mode {
	case ModeRead:
		return fp.n == 0
	case ModeAppend:
		return true
	}
	return false
}

// Close closes the file and flushes any data in the open chunk to the device.
func (fp *File) Close() error {
	if err := fp.obj.validate(); err != nil {
		return err
	}
	return fp.f_close()
}

// Sync commits the data written so far to the device. Writing continues in a new chunk,
// so frequent syncs cost space.
func (fp *File) Sync() error {
	if err := fp.obj.validate(); err != nil {
		return err
	}
	return fp.f_sync()
}

// Name returns the name the File was opened with.
func (fp *File) Name() string { return fp.name }

// Mode returns the mode of the File. Files opened with ModeReplace report ModeAppend.
func (fp *File) Mode() Mode { return fp.mode }

// Remove deletes the named file. Removing a file that does not exist is not an error.
// The file's table entry is left as garbage until CleanupFileTable is called.
func (fsys *FS) Remove(name string) error {
	if fsys.device == nil {
		return ErrParam
	}
	return fsys.remove(name)
}

// NextFile returns the name of the next file in table order. When every file
// has been returned ErrEnd is returned and enumeration starts over.
func (fsys *FS) NextFile() (string, error) {
	if fsys.device == nil {
		return "", ErrParam
	}
	return fsys.next_file()
}

// RewindFiles restarts the enumeration of NextFile at the first file.
func (fsys *FS) RewindFiles() {
	fsys.fileCounter = 0
}

// ForEachFile calls the callback function for each file on the volume.
func (fsys *FS) ForEachFile(callback func(name string) error) error {
	if fsys.device == nil {
		return ErrParam
	}
	fsys.RewindFiles()
	for {
		name, err := fsys.next_file()
		if err == resEnd {
			return nil
		} else if err != nil {
			return err
		}
		if err = callback(name); err != nil {
			fsys.RewindFiles()
			return err
		}
	}
}

// CleanupFileTable compacts the file table by dropping the entries of removed files.
// Open files remain valid. File enumeration is restarted.
func (fsys *FS) CleanupFileTable() error {
	if fsys.device == nil {
		return ErrParam
	}
	return fsys.cleanup_table()
}

// GarbageEntries returns the number of file table entries held by removed files.
func (fsys *FS) GarbageEntries() (int, error) {
	if fsys.device == nil {
		return 0, ErrParam
	}
	return fsys.count_garbage()
}

// FreeBlocks returns the number of unused blocks on the volume.
func (fsys *FS) FreeBlocks() (int, error) {
	if fsys.device == nil {
		return 0, ErrParam
	}
	return fsys.count_free_blocks()
}

// Stat returns information on the named file.
func (fsys *FS) Stat(name string) (FileInfo, error) {
	if fsys.device == nil {
		return FileInfo{}, ErrParam
	}
	var fp File
	err := fsys.f_open(&fp, name, ModeRead)
	if err != nil {
		return FileInfo{}, err
	}
	err = fp.f_seek(math.MaxUint32)
	if err != nil && err != resEnd {
		return FileInfo{}, err
	}
	blocks, err := fsys.count_chain(fp.start)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		name:   name,
		size:   int64(fp.vaddr),
		start:  fp.start,
		blocks: blocks,
	}, nil
}

// Name returns the name of the file.
func (finfo *FileInfo) Name() string {
	return finfo.name
}

// Size returns the size of the file in bytes.
func (finfo *FileInfo) Size() int64 {
	return finfo.size
}

// StartBlock returns the first block of the file's chain.
func (finfo *FileInfo) StartBlock() int {
	return int(finfo.start)
}

// Blocks returns the number of blocks used by the file.
func (finfo *FileInfo) Blocks() int {
	return finfo.blocks
}
