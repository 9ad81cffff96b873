package flashfs

import (
	"bytes"
	"io"
	"testing"
)

// This function is a self contained fuzzing function whose working
// principle is similar to that of a virtual machine. It takes in
// a series of 64-bit operations and performs them on a FS object,
// checking file contents against an in-memory model.
func FuzzFS(f *testing.F) {
	// 64-bit operation definition, starting with least significant bits:
	//
	//  - OP:       First 4 bits are the operation to perform.
	//  - WHO:      Next 4 bits is target of operation.
	//  - RESERVED: Middle bits are reserved.
	//  - DATASIZE: Last 16 bits is the size of the data to write, if applicable.
	const (
		opAppend uint64 = iota
		opReplace
		opRemove
		opCleanup
		opRemount
		opSeek
		opSync

		datasizeOff = 48
		whoOff      = 4
	)
	writeData := make([]byte, 1<<16)
	for i := range writeData {
		writeData[i] = byte(i) ^ byte(i>>8)
	}
	f.Add(opAppend|(1000<<datasizeOff), opAppend|(1<<whoOff)|(300<<datasizeOff),
		opRemove, opCleanup, opReplace|(1<<whoOff)|(10<<datasizeOff), opRemount,
		opSeek|(1<<whoOff)|(5<<datasizeOff), opAppend|(2<<whoOff)|(254<<datasizeOff),
	)
	f.Add(opAppend|(2000<<datasizeOff), opSync|(100<<datasizeOff), opRemove|(3<<whoOff),
		opAppend|(3<<whoOff)|(60000<<datasizeOff), opCleanup, opRemount, opRemove, opCleanup)
	names := [...]string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g", "h"}
	f.Fuzz(func(t *testing.T, fsop0, fsop1, fsop2, fsop3, fsop4, fsop5, fsop6, fsop7 uint64) {
		dev, err := NewBytesBlocks(64, 256, ErasedOnes)
		if err != nil {
			t.Fatal(err)
		}
		var fs FS
		if err = fs.Mount(dev, Config{Logger: testLogger()}); err != nil {
			t.Fatal(err)
		}
		model := map[string][]byte{}
		check := func(name string) {
			var fp File
			err := fs.OpenFile(&fp, name, ModeRead)
			want, ok := model[name]
			if !ok {
				if err != ErrNotFound {
					t.Fatalf("%s: expected not found, got %v", name, err)
				}
				return
			} else if err != nil {
				t.Fatal(err)
			}
			got, err := io.ReadAll(&fp)
			if err != nil {
				t.Fatal(err)
			} else if !bytes.Equal(got, want) {
				t.Fatalf("%s: content mismatch: got %d bytes, want %d", name, len(got), len(want))
			}
		}

		fsops := [...]uint64{fsop0, fsop1, fsop2, fsop3, fsop4, fsop5, fsop6, fsop7}
		for _, fsop := range fsops {
			op := fsop & 0xf
			name := names[(fsop>>whoOff)&7]
			datasize := int(uint16(fsop >> datasizeOff))
			switch op {
			case opAppend, opReplace, opSync:
				mode := ModeAppend
				if op == opReplace {
					mode = ModeReplace
					delete(model, name)
				}
				var fp File
				err := fs.OpenFile(&fp, name, mode)
				if err == ErrFull {
					break
				} else if err != nil {
					t.Fatal(err)
				}
				n, err := fp.Write(writeData[:datasize])
				if err != nil && err != ErrFull {
					t.Fatal(err)
				}
				model[name] = append(model[name], writeData[:n]...)
				if op == opSync {
					if err = fp.Sync(); err != nil {
						t.Fatal(err)
					}
				}
				if err = fp.Close(); err != nil {
					t.Fatal(err)
				}

			case opRemove:
				if err := fs.Remove(name); err != nil {
					t.Fatal(err)
				}
				delete(model, name)

			case opCleanup:
				err := fs.CleanupFileTable()
				if err != nil && err != ErrFull {
					t.Fatal(err)
				}
				if garbage, _ := fs.GarbageEntries(); err == nil && garbage != 0 {
					t.Fatalf("garbage after cleanup: %d", garbage)
				}

			case opRemount:
				if err := fs.Mount(dev, Config{}); err != nil {
					t.Fatal(err)
				}

			case opSeek:
				want, ok := model[name]
				if !ok {
					break
				}
				var fp File
				if err := fs.OpenFile(&fp, name, ModeRead); err != nil {
					t.Fatal(err)
				}
				off := datasize
				pos, err := fp.Seek(int64(off), io.SeekStart)
				if off > len(want) {
					if err != ErrEnd || pos != int64(len(want)) || !fp.EOF() {
						t.Fatalf("seek past end: pos=%d err=%v", pos, err)
					}
					break
				} else if err != nil {
					t.Fatal(err)
				}
				rest, err := io.ReadAll(&fp)
				if err != nil {
					t.Fatal(err)
				} else if !bytes.Equal(rest, want[off:]) {
					t.Fatalf("%s: mismatch after seek to %d", name, off)
				}

			default:
				// Interpret as a read of the whole file.
				check(name)
			}
		}
		for _, name := range names {
			check(name)
		}
	})
}
