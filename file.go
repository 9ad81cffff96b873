package flashfs

import (
	"log/slog"
)

// f_open opens the file name in mode. ModeReplace truncates an existing file
// and behaves as ModeAppend from then on. Write modes create missing files.
func (fsys *FS) f_open(fp *File, name string, mode Mode) error {
	enc, err := fsys.encodeName(name)
	if err != nil {
		return err
	}
	fte, err := fsys.lookup_file(enc)
	found := err == nil
	if err != nil && err != resNotFound {
		return err
	}

	fp.obj = objid{fs: fsys, id: fsys.id}
	fp.mode = modeClosed
	var start blkidx
	switch mode {
	case ModeRead:
		if !found {
			return resNotFound
		}
		start = blkidx(fte.start)
		fp.vaddr = 0
		fp.addr = fsys.blk.addr(start) + sizeHeader
		c, err := fsys.read_chunk(fp.addr)
		if err != nil {
			return err
		}
		if c == fsys.erased {
			fp.n = 0 // Empty file.
		} else if !validChunk(c) {
			return resFail
		} else {
			fp.n = c - sizeChunkHeader
			fp.addr += sizeChunkHeader
		}

	case ModeAppend, ModeReplace:
		switch {
		case !found:
			start, err = fsys.create_entry(fte, enc)
			if err != nil {
				return err
			}
			fsys.debug("open:create", slog.String("name", name), slog.Int("block", int(start)))
			fp.reset_write(fsys, start)

		case mode == ModeAppend:
			start = blkidx(fte.start)
			fp.start = start
			if err = fp.seek_eof(); err != nil {
				return err
			}

		default:
			start = blkidx(fte.start)
			if err = fsys.erase_chain(start); err != nil {
				return err
			}
			if err = fsys.put_data_header(start, 0); err != nil {
				return err
			}
			fp.reset_write(fsys, start)
		}
		mode = ModeAppend

	default:
		return resParam
	}
	fp.start = start
	fp.mode = mode
	fp.name = name
	return nil
}

// reset_write positions fp at the first chunk of the empty block start.
func (fp *File) reset_write(fsys *FS, start blkidx) {
	fp.start = start
	fp.vaddr = 0
	fp.addr = fsys.blk.addr(start) + sizeHeader
	fp.n = sizeChunkHeader
}

// seek_eof follows the jump chain of a flushed file to its last block and
// positions fp on the first writable chunk slot.
func (fp *File) seek_eof() error {
	fsys := fp.obj.fs
	b := fp.start
	h, err := fsys.read_header(b)
	for hops := 0; err == nil && h.status == statusJump; hops++ {
		if hops >= fsys.nblocks {
			return resFail
		}
		b = h.jump
		h, err = fsys.read_header(b)
	}
	if err != nil {
		return err
	}

	vaddr := h.vaddr
	base := fsys.blk.addr(b)
	addr := base + sizeHeader
	for int(addr-base) <= fsys.blk.size()-(sizeChunkHeader+1) {
		c, err := fsys.read_chunk(addr)
		if err != nil {
			return err
		}
		if c == fsys.erased {
			// Reached a writable location in the block.
			fp.addr = addr
			fp.vaddr = vaddr
			fp.n = sizeChunkHeader
			return nil
		} else if !validChunk(c) {
			fsys.logerror("seekeof:chunk", slog.Int("block", int(b)), slog.Int("nbytes", int(c)))
			return resFail
		}
		addr += hwaddr(c)
		vaddr += uint32(c) - sizeChunkHeader
	}
	// Last block is full.
	fp.addr = base
	fp.vaddr = vaddr
	fp.n = 0
	return nil
}

// erase_chain erases every block of the data chain starting at b.
func (fsys *FS) erase_chain(b blkidx) error {
	for hops := 0; hops < fsys.nblocks; hops++ {
		if b == 0 || int(b) >= fsys.nblocks {
			fsys.logerror("erasechain:bad", slog.Int("block", int(b)))
			return resFail
		}
		h, err := fsys.read_header(b)
		if err != nil {
			return err
		}
		if err = fsys.erase(b); err != nil {
			return err
		}
		if h.status != statusJump {
			return nil
		}
		b = h.jump
	}
	return resFail
}

// count_chain returns the number of blocks in the data chain starting at b.
func (fsys *FS) count_chain(b blkidx) (int, error) {
	for n := 1; n <= fsys.nblocks; n++ {
		h, err := fsys.read_header(b)
		if err != nil {
			return n, err
		}
		if h.status != statusJump {
			return n, nil
		}
		b = h.jump
	}
	return 0, resFail
}

// chain_block allocates a new block after the full block at base, whose data
// ends at file offset vaddr. It returns the address of the new block's first chunk.
func (fsys *FS) chain_block(base hwaddr, vaddr uint32) (hwaddr, error) {
	nb, err := fsys.find_unused_block()
	if err != nil {
		return 0, err
	}
	if err = fsys.put_data_header(nb, vaddr); err != nil {
		return 0, err
	}
	if err = fsys.put_jump(fsys.blk.idx(base), statusJump, nb); err != nil {
		return 0, err
	}
	return fsys.blk.addr(nb) + sizeHeader, nil
}

func (fp *File) f_write(data []byte) (int, error) {
	fsys := fp.obj.fs
	if fp.mode != ModeAppend {
		return 0, resParam
	} else if len(data) == 0 {
		return 0, nil
	}
	var (
		vaddr = fp.vaddr
		addr  = fp.addr
		n     = int(fp.n)
		done  = 0
	)
	save := func() {
		fp.vaddr, fp.addr, fp.n = vaddr, addr, uint8(n)
	}
	if n == 0 {
		// Current block is full, addr holds its start. Chain a new one.
		next, err := fsys.chain_block(addr, vaddr)
		if err != nil {
			return 0, err
		}
		addr = next
		n = sizeChunkHeader
	}

	bs := fsys.blk.size()
	base := fsys.blk.addr(fsys.blk.idx(addr))
	remaining := bs - (int(addr-base) + n) // Bytes left in the block after the write position.
	for done < len(data) {
		wlen := min(len(data)-done, maxChunkLen-n, remaining)
		if err := fsys.write(addr+hwaddr(n), data[done:done+wlen]); err != nil {
			save()
			return done, err
		}
		n += wlen
		vaddr += uint32(wlen)
		done += wlen
		remaining -= wlen

		switch {
		case n == maxChunkLen && remaining > sizeChunkHeader:
			// Chunk full but not the block. Close it and open the next one.
			if err := fsys.put_chunk(addr, uint8(n)); err != nil {
				save()
				return done, err
			}
			addr += maxChunkLen
			n = sizeChunkHeader
			remaining -= sizeChunkHeader

		case remaining <= sizeChunkHeader:
			// Block full. Close the chunk.
			if err := fsys.put_chunk(addr, uint8(n)); err != nil {
				save()
				return done, err
			}
			addr, n = base, 0
			if done == len(data) {
				save()
				return done, nil
			}
			next, err := fsys.chain_block(base, vaddr)
			if err != nil {
				// Handle stays on the full block so a later write can retry.
				save()
				return done, err
			}
			addr = next
			base = fsys.blk.addr(fsys.blk.idx(next))
			n = sizeChunkHeader
			remaining = bs - sizeHeader - sizeChunkHeader
		}
	}
	save()
	return done, nil
}

func (fp *File) f_read(buf []byte) (int, error) {
	fsys := fp.obj.fs
	if fp.mode != ModeRead {
		return 0, resParam
	} else if len(buf) == 0 {
		return 0, nil
	}
	var (
		vaddr = fp.vaddr
		addr  = fp.addr
		n     = int(fp.n)
		done  = 0
	)
	save := func() {
		fp.vaddr, fp.addr, fp.n = vaddr, addr, uint8(n)
	}
	// next_chunk opens the chunk whose header is at addr.
	// ok is false if it was never written.
	next_chunk := func() (ok bool, err error) {
		c, err := fsys.read_chunk(addr)
		if err != nil || c == fsys.erased {
			return false, err
		} else if !validChunk(c) {
			fsys.logerror("read:chunk", slog.Int("addr", int(addr)), slog.Int("nbytes", int(c)))
			return false, resFail
		}
		addr += sizeChunkHeader
		n = int(c) - sizeChunkHeader
		return true, nil
	}
	// follow_jump moves to the first chunk of the block chained after base.
	// ok is false if the block has no jump or the next block holds no data.
	follow_jump := func(base hwaddr) (ok bool, err error) {
		h, err := fsys.read_header(fsys.blk.idx(base))
		if err != nil {
			return false, err
		} else if h.status != statusJump {
			addr = base // Block full and not chained yet.
			return false, nil
		}
		addr = fsys.blk.addr(h.jump) + sizeHeader
		// A jump to a block without chunks is treated as end of file.
		return next_chunk()
	}

	if n == 0 {
		// Previous read hit the end of data. Check whether more was written since.
		var ok bool
		var err error
		if fsys.blk.off(addr) == 0 {
			ok, err = follow_jump(addr) // Block was full.
		} else {
			ok, err = next_chunk()
		}
		if !ok {
			save()
			return 0, err
		}
	}

	base := fsys.blk.addr(fsys.blk.idx(addr))
	for done < len(buf) {
		rlen := min(len(buf)-done, n)
		if rlen > 0 {
			if err := fsys.read(addr, buf[done:done+rlen]); err != nil {
				save()
				return done, err
			}
		}
		n -= rlen
		addr += hwaddr(rlen)
		vaddr += uint32(rlen)
		done += rlen
		if n > 0 {
			continue
		}

		// Reached the end of the chunk. Find the next one.
		var ok bool
		var err error
		if int(addr-base) <= fsys.blk.size()-(sizeChunkHeader+1) {
			ok, err = next_chunk()
		} else {
			ok, err = follow_jump(base)
		}
		if !ok {
			save()
			return done, err
		}
		base = fsys.blk.addr(fsys.blk.idx(addr))
	}
	save()
	return done, nil
}

// f_seek positions a read mode file at offset. Offsets past the end of the
// file park the handle at the end and return resEnd.
func (fp *File) f_seek(offset uint32) error {
	fsys := fp.obj.fs
	if fp.mode != ModeRead {
		return resParam
	}
	b := fsys.blk.idx(fp.addr)
	h, err := fsys.read_header(b)
	if err != nil {
		return err
	}
	if h.vaddr > offset {
		// Rewind to beginning.
		b = fp.start
		if h, err = fsys.read_header(b); err != nil {
			return err
		}
	}

	// Seek to the containing block.
	for hops := 0; h.status == statusJump; hops++ {
		if hops >= fsys.nblocks {
			return resFail
		}
		nh, err := fsys.read_header(h.jump)
		if err != nil {
			return err
		}
		if nh.vaddr > offset {
			break // Next block starts past offset.
		}
		b, h = h.jump, nh
	}

	// Seek within the block.
	park := func(addr hwaddr, vaddr uint32) error {
		fp.addr, fp.vaddr, fp.n = addr, vaddr, 0
		if vaddr < offset {
			return resEnd
		}
		return nil
	}
	vaddr := h.vaddr
	base := fsys.blk.addr(b)
	addr := base + sizeHeader
	for {
		if int(addr-base) > fsys.blk.size()-(sizeChunkHeader+1) {
			return park(base, vaddr) // Block full, end of file.
		}
		c, err := fsys.read_chunk(addr)
		if err != nil {
			return err
		}
		if c == fsys.erased {
			return park(addr, vaddr)
		} else if !validChunk(c) {
			fsys.logerror("seek:chunk", slog.Int("block", int(b)), slog.Int("nbytes", int(c)))
			return resFail
		}
		clen := uint32(c) - sizeChunkHeader
		if vaddr+clen <= offset {
			addr += hwaddr(c)
			vaddr += clen
			continue
		}
		// Offset is in this chunk.
		rel := offset - vaddr
		fp.n = uint8(clen - rel)
		fp.addr = addr + sizeChunkHeader + hwaddr(rel)
		fp.vaddr = offset
		return nil
	}
}

// f_sync closes the current chunk at its present length so the data written
// so far is persisted. Writing continues in a new chunk.
func (fp *File) f_sync() error {
	fsys := fp.obj.fs
	if fp.mode != ModeAppend {
		return resParam
	}
	if fp.n <= sizeChunkHeader {
		return nil // No data in chunk.
	}
	if err := fsys.put_chunk(fp.addr, fp.n); err != nil {
		return err
	}
	base := fsys.blk.addr(fsys.blk.idx(fp.addr))
	addr := fp.addr + hwaddr(fp.n)
	if int(addr-base) > fsys.blk.size()-(sizeChunkHeader+1) {
		fp.addr, fp.n = base, 0 // Block is full.
	} else {
		fp.addr, fp.n = addr, sizeChunkHeader
	}
	return nil
}

func (fp *File) f_close() error {
	switch fp.mode {
	case ModeRead:
	case ModeAppend:
		if fp.n > sizeChunkHeader {
			if err := fp.f_sync(); err != nil {
				return err
			}
		}
	default:
		return resParam
	}
	fp.mode = modeClosed
	return nil
}

// remove deletes the file's table entry and erases its blocks.
// Removing a missing file succeeds.
func (fsys *FS) remove(name string) error {
	enc, err := fsys.encodeName(name)
	if err != nil {
		return err
	}
	fte, err := fsys.lookup_file(enc)
	if err == resNotFound {
		return nil
	} else if err != nil {
		return err
	}
	var tomb [sizeFTEStart]byte
	null := fsys.null16()
	tomb[0], tomb[1] = byte(null), byte(null>>8)
	if err = fsys.write(fte.addr, tomb[:]); err != nil {
		return err
	}
	fsys.debug("remove", slog.String("name", name), slog.Int("block", int(fte.start)))
	return fsys.erase_chain(blkidx(fte.start))
}
