package flashfs

import (
	"encoding/binary"
	"log/slog"
)

// fteInfo is a file table entry along with its location on the device.
type fteInfo struct {
	start uint16 // Raw startblock field.
	addr  hwaddr // Address of the entry.
}

// next_table_block returns the block chained after file table block b.
// ok is false if b is the last block of the table.
func (fsys *FS) next_table_block(b blkidx) (next blkidx, ok bool, err error) {
	h, err := fsys.read_header(b)
	if err != nil || h.status != statusFTJump {
		return 0, false, err
	}
	if h.jump == 0 || int(h.jump) >= fsys.nblocks {
		fsys.logerror("table:badjump", slog.Int("block", int(b)), slog.Int("jump", int(h.jump)))
		return 0, false, resFail
	}
	return h.jump, true, nil
}

// lookup_file walks the file table in chain order looking for name.
// If the file is not found resNotFound is returned along with the last entry
// examined: either the unused entry terminating the table, or the last entry
// of a full table.
func (fsys *FS) lookup_file(name []byte) (fte fteInfo, err error) {
	buf := fsys.ftbuf[:fsys.ftesize]
	b := blkidx(0) // Table always starts at block 0.
	for hops := 0; hops < fsys.nblocks; hops++ {
		for i := 0; i < fsys.nfte; i++ {
			fte.addr = fsys.entryaddr(b, i)
			if err = fsys.read(fte.addr, buf); err != nil {
				return fte, err
			}
			fte.start = binary.LittleEndian.Uint16(buf)
			switch fsys.fteKind(fte.start) {
			case fteUnused:
				return fte, resNotFound // End of table.
			case fteLive:
				if fsys.nameMatch(buf[sizeFTEStart:], name) {
					return fte, nil
				}
			}
		}
		next, ok, err := fsys.next_table_block(b)
		if err != nil {
			return fte, err
		} else if !ok {
			return fte, resNotFound
		}
		b = next
	}
	return fte, resFail // Table chain loops.
}

// create_entry writes a new entry for name in the slot returned by a failed
// lookup, growing the table if that slot is the end of a full block, and
// claims the first data block of the new file.
func (fsys *FS) create_entry(fte fteInfo, name []byte) (blkidx, error) {
	if fsys.fteKind(fte.start) != fteUnused {
		// The table must be expanded to another block.
		ftblock := fsys.blk.idx(fte.addr)
		nb, err := fsys.find_unused_block()
		if err != nil {
			return 0, err
		}
		if err = fsys.put_status(nb, statusFTEOF); err != nil {
			return 0, err
		}
		if err = fsys.put_jump(ftblock, statusFTJump, nb); err != nil {
			return 0, err
		}
		fsys.debug("table:grow", slog.Int("from", int(ftblock)), slog.Int("to", int(nb)))
		fte.addr = fsys.entryaddr(nb, 0)
	}

	db, err := fsys.find_unused_block()
	if err != nil {
		return 0, err
	}
	if err = fsys.put_data_header(db, 0); err != nil {
		return 0, err
	}
	buf := fsys.ftbuf[:fsys.ftesize]
	binary.LittleEndian.PutUint16(buf, uint16(db))
	fsys.putName(buf[sizeFTEStart:], name)
	if err = fsys.write(fte.addr, buf); err != nil {
		return 0, err
	}
	return db, nil
}

// count_garbage returns the number of deleted entries in the file table.
func (fsys *FS) count_garbage() (int, error) {
	var buf [sizeFTEStart]byte
	garbage := 0
	b := blkidx(0)
	for hops := 0; hops < fsys.nblocks; hops++ {
		for i := 0; i < fsys.nfte; i++ {
			if err := fsys.read(fsys.entryaddr(b, i), buf[:]); err != nil {
				return garbage, err
			}
			switch fsys.fteKind(binary.LittleEndian.Uint16(buf[:])) {
			case fteUnused:
				return garbage, nil
			case fteDeleted:
				garbage++
			}
		}
		next, ok, err := fsys.next_table_block(b)
		if err != nil || !ok {
			return garbage, err
		}
		b = next
	}
	return garbage, resFail
}

// next_file returns the name of the next live entry after the enumeration
// counter and advances the counter past it. At the end of the table the
// counter is reset and resEnd returned.
func (fsys *FS) next_file() (string, error) {
	var (
		b       blkidx
		counter int
	)
	// Jump up to the table block holding the counter.
	for fsys.fileCounter >= counter+fsys.nfte {
		next, ok, err := fsys.next_table_block(b)
		if err != nil {
			return "", err
		} else if !ok {
			fsys.fileCounter = 0 // Counter is past the end of the table.
			return "", resEnd
		}
		b = next
		counter += fsys.nfte
	}

	buf := fsys.ftbuf[:fsys.ftesize]
	first := fsys.fileCounter - counter
	for hops := 0; hops < fsys.nblocks; hops++ {
		for i := first; i < fsys.nfte; i++ {
			if err := fsys.read(fsys.entryaddr(b, i), buf); err != nil {
				return "", err
			}
			switch fsys.fteKind(binary.LittleEndian.Uint16(buf)) {
			case fteUnused:
				fsys.fileCounter = 0
				return "", resEnd
			case fteLive:
				fsys.fileCounter = counter + i + 1
				return fsys.getName(buf[sizeFTEStart:])
			}
		}
		next, ok, err := fsys.next_table_block(b)
		if err != nil {
			return "", err
		} else if !ok {
			break
		}
		b = next
		counter += fsys.nfte
		first = 0
	}
	fsys.fileCounter = 0
	return "", resEnd
}

// cleanup_table rebuilds the file table without deleted entries. Live entries
// are staged one new block at a time and every old block is erased as soon as
// its entries are consumed, so the new table reuses the old one's blocks.
func (fsys *FS) cleanup_table() error {
	fsys.fileCounter = 0
	oldHdr, err := fsys.read_header(0)
	if err != nil {
		return err
	}
	if oldHdr.status == statusFTJump {
		// Rebuilding a chained table may need one block beyond the old table's.
		if _, err := fsys.find_unused_block(); err != nil {
			return err
		}
	}

	var (
		old      blkidx // Old table block being consumed.
		oldEntry int
		staged   int // Entries in ftbuf.
		prev     blkidx
		written  int // New table blocks written.
		moved    int
	)
	flush := func() error {
		var nb blkidx
		if written > 0 {
			var err error
			nb, err = fsys.find_unused_block()
			if err != nil {
				fsys.logerror("cleanup:alloc", slog.Int("staged", staged))
				return err
			}
		} // First new block reuses block 0, already erased.
		if err := fsys.put_status(nb, statusFTEOF); err != nil {
			return err
		}
		if staged > 0 {
			if err := fsys.write(fsys.entryaddr(nb, 0), fsys.ftbuf[:staged*fsys.ftesize]); err != nil {
				return err
			}
		}
		if written > 0 {
			if err := fsys.put_jump(prev, statusFTJump, nb); err != nil {
				return err
			}
		}
		moved += staged
		prev = nb
		written++
		staged = 0
		return nil
	}

	done := false
	for hops := 0; !done; {
		entry := fsys.ftbuf[staged*fsys.ftesize : (staged+1)*fsys.ftesize]
		if err := fsys.read(fsys.entryaddr(old, oldEntry), entry); err != nil {
			return err
		}
		switch fsys.fteKind(binary.LittleEndian.Uint16(entry)) {
		case fteUnused:
			if err := fsys.erase(old); err != nil {
				return err
			}
			done = true
		case fteDeleted:
			oldEntry++
		case fteLive:
			oldEntry++
			staged++
		}

		if !done && oldEntry == fsys.nfte {
			// Reached end of old block.
			if err := fsys.erase(old); err != nil {
				return err
			}
			if oldHdr.status != statusFTJump {
				done = true
			} else {
				hops++
				if oldHdr.jump == 0 || int(oldHdr.jump) >= fsys.nblocks || hops >= fsys.nblocks {
					return resFail
				}
				old = oldHdr.jump
				if oldHdr, err = fsys.read_header(old); err != nil {
					return err
				}
				oldEntry = 0
			}
		}
		if staged == fsys.nfte {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if staged > 0 || written == 0 {
		if err := flush(); err != nil {
			return err
		}
	}
	fsys.info("cleanup", slog.Int("entries", moved), slog.Int("blocks", written))
	return nil
}
