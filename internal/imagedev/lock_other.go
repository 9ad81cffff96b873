//go:build !unix

package imagedev

import "os"

// Images are not locked on platforms without flock.
func lock(*os.File) error   { return nil }
func unlock(*os.File) error { return nil }
