package flashfs

import (
	"bytes"
)

// encodeName converts name to its on-device code page representation.
// Names must be non-empty, leave room for the terminating NUL in the
// filename field and contain no NUL.
func (fsys *FS) encodeName(name string) ([]byte, error) {
	if len(name) == 0 {
		return nil, resParam
	}
	enc, err := fsys.cmap.NewEncoder().String(name)
	if err != nil {
		return nil, resParam
	}
	if len(enc) > fsys.namelen-1 || bytes.IndexByte([]byte(enc), 0) >= 0 {
		return nil, resParam
	}
	return []byte(enc), nil
}

// getName decodes a filename field.
func (fsys *FS) getName(field []byte) (string, error) {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	name, err := fsys.cmap.NewDecoder().Bytes(field)
	if err != nil {
		return "", resFail
	}
	return string(name), nil
}

// putName fills field with the encoded name, NUL terminated and zero padded.
func (fsys *FS) putName(field, name []byte) {
	n := copy(field, name)
	clear(field[n:])
}

func (fsys *FS) nameMatch(field, name []byte) bool {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return bytes.Equal(field, name)
}
