// Package imagedev implements a flash block device backed by an image file on the
// host file system. On Unix hosts the image is locked exclusively while open so a
// single process owns the volume.
package imagedev

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// Geometry describes the flash part emulated by an image.
type Geometry struct {
	BlockSize  int
	BlockCount int
	// Erased is the value of an erased byte, 0xFF or 0x00.
	Erased byte
}

func (g Geometry) validate() error {
	switch {
	case g.BlockSize <= 0 || g.BlockSize&(g.BlockSize-1) != 0:
		return errors.Errorf("block size %d is not a power of 2", g.BlockSize)
	case g.BlockCount <= 0:
		return errors.Errorf("invalid block count %d", g.BlockCount)
	case g.Erased != 0xff && g.Erased != 0x00:
		return errors.Errorf("erased value %#x must be 0xff or 0x00", g.Erased)
	}
	return nil
}

// Size returns the size of the image in bytes.
func (g Geometry) Size() int64 { return int64(g.BlockSize) * int64(g.BlockCount) }

// Device is an image file opened as a flash device. Programs emulate flash
// by only moving bits away from the erased value.
type Device struct {
	f       *os.File
	geo     Geometry
	blank   []byte
	scratch []byte
	created bool
}

// Open opens the image at path, creating it erased if it does not exist or is empty.
// An existing image must match the size given by geo.
func Open(path string, geo Geometry) (*Device, error) {
	if err := geo.validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	if err = lock(f); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "lock image %s", path)
	}
	d := &Device{
		f:       f,
		geo:     geo,
		blank:   make([]byte, geo.BlockSize),
		scratch: make([]byte, geo.BlockSize),
	}
	for i := range d.blank {
		d.blank[i] = geo.Erased
	}
	st, err := f.Stat()
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "stat image")
	}
	switch st.Size() {
	case 0:
		if err = d.EraseAll(); err != nil {
			d.Close()
			return nil, errors.Wrap(err, "initialize image")
		}
		d.created = true
	case geo.Size():
	default:
		d.Close()
		return nil, errors.Errorf("image %s is %d bytes, geometry needs %d", path, st.Size(), geo.Size())
	}
	return d, nil
}

// Created reports whether Open initialized a new image.
func (d *Device) Created() bool { return d.created }

func (d *Device) BlockSize() int  { return d.geo.BlockSize }
func (d *Device) BlockCount() int { return d.geo.BlockCount }

func (d *Device) offset(block, off, n int) (int64, error) {
	if block < 0 || block >= d.geo.BlockCount {
		return 0, errors.Errorf("block %d out of range", block)
	} else if off < 0 || off+n > d.geo.BlockSize {
		return 0, errors.Errorf("access [%d,%d) crosses block boundary", off, off+n)
	}
	return int64(block)*int64(d.geo.BlockSize) + int64(off), nil
}

func (d *Device) ReadBlock(dst []byte, block, off int) error {
	at, err := d.offset(block, off, len(dst))
	if err != nil {
		return err
	}
	_, err = d.f.ReadAt(dst, at)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrap(err, "read image")
}

func (d *Device) ProgramBlock(data []byte, block, off int) error {
	at, err := d.offset(block, off, len(data))
	if err != nil {
		return err
	}
	cur := d.scratch[:len(data)]
	if _, err = d.f.ReadAt(cur, at); err != nil {
		return errors.Wrap(err, "program image")
	}
	for i, v := range data {
		if d.geo.Erased == 0xff {
			cur[i] &= v
		} else {
			cur[i] |= v
		}
	}
	_, err = d.f.WriteAt(cur, at)
	return errors.Wrap(err, "program image")
}

func (d *Device) EraseBlock(block int) error {
	at, err := d.offset(block, 0, d.geo.BlockSize)
	if err != nil {
		return err
	}
	_, err = d.f.WriteAt(d.blank, at)
	return errors.Wrapf(err, "erase block %d", block)
}

func (d *Device) EraseAll() error {
	for b := 0; b < d.geo.BlockCount; b++ {
		if err := d.EraseBlock(b); err != nil {
			return err
		}
	}
	return nil
}

// Sync commits the image contents to stable storage.
func (d *Device) Sync() error {
	return errors.Wrap(d.f.Sync(), "sync image")
}

// Close unlocks and closes the image.
func (d *Device) Close() error {
	uerr := unlock(d.f)
	if err := d.f.Close(); err != nil {
		return errors.Wrap(err, "close image")
	}
	return errors.Wrap(uerr, "unlock image")
}
