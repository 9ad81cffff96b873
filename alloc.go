package flashfs

import "log/slog"

// find_unused_block returns the first block whose status reads unused, scanning
// forward from where the previous search left off and wrapping past block 0,
// which is never returned. It returns resFull after a full lap.
// The block is not claimed: the caller must write its header before searching again.
func (fsys *FS) find_unused_block() (blkidx, error) {
	start := fsys.searchStart
	b := start
	for {
		b++
		if int(b) >= fsys.nblocks {
			b = 1 // Block 0 always holds the file table.
			if start == 0 {
				break // Wrapped on initial search.
			}
		}
		st, err := fsys.block_status(b)
		if err != nil {
			return 0, err
		}
		if b == start {
			if st == statusUnused {
				return b, nil
			}
			break
		}
		if st == statusUnused {
			fsys.searchStart = b
			return b, nil
		}
	}
	fsys.warn("alloc:full", slog.Int("start", int(start)))
	return 0, resFull
}

// count_free_blocks counts unused blocks by cycling the allocator until it
// returns the first block found. The search position is left on that block.
func (fsys *FS) count_free_blocks() (int, error) {
	first, err := fsys.find_unused_block()
	if err == resFull {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	free := 1
	for {
		b, err := fsys.find_unused_block()
		if err != nil {
			return free, err
		}
		if b == first {
			break
		}
		free++
	}
	fsys.searchStart = first - 1
	return free, nil
}
