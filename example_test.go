package flashfs_test

import (
	"fmt"
	"io"

	"github.com/soypat/flashfs"
)

func ExampleFS_basic_usage() {
	// device could be a NOR flash chip, RAM, or anything that implements the BlockDevice interface.
	device, err := flashfs.NewBytesBlocks(4096, 64, flashfs.ErasedOnes)
	if err != nil {
		panic(err)
	}
	var fs flashfs.FS
	err = fs.Mount(device, flashfs.Config{})
	if err != nil {
		panic(err)
	}
	var file flashfs.File
	err = fs.OpenFile(&file, "newfile.txt", flashfs.ModeReplace)
	if err != nil {
		panic(err)
	}

	_, err = file.Write([]byte("Hello, World!"))
	if err != nil {
		panic(err)
	}
	err = file.Close()
	if err != nil {
		panic(err)
	}

	// Read back the file:
	err = fs.OpenFile(&file, "newfile.txt", flashfs.ModeRead)
	if err != nil {
		panic(err)
	}
	data, err := io.ReadAll(&file)
	if err != nil {
		panic(err)
	}
	fmt.Println(string(data))
	file.Close()
	// Output:
	// Hello, World!
}

func ExampleFS_NextFile() {
	device, _ := flashfs.NewBytesBlocks(512, 16, flashfs.ErasedOnes)
	var fs flashfs.FS
	fs.Mount(device, flashfs.Config{})
	var file flashfs.File
	for _, name := range []string{"boot.cfg", "log.0", "log.1"} {
		fs.OpenFile(&file, name, flashfs.ModeAppend)
		file.Write([]byte(name))
		file.Close()
	}
	fs.Remove("log.0")
	for {
		name, err := fs.NextFile()
		if err == flashfs.ErrEnd {
			break
		}
		fmt.Println(name)
	}
	garbage, _ := fs.GarbageEntries()
	fmt.Println("garbage entries:", garbage)
	fs.CleanupFileTable()
	garbage, _ = fs.GarbageEntries()
	fmt.Println("after cleanup:", garbage)
	// Output:
	// boot.cfg
	// log.1
	// garbage entries: 1
	// after cleanup: 0
}
