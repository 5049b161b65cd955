//go:build windows

package vfs

import (
	"io"
	"os"
)

type fileLock struct {
	f *os.File
}

// lockFile acquires an exclusive lock by opening the file with no shared
// access; a concurrent open from another handle to this database fails.
func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		f, err = os.OpenFile(name, os.O_RDWR, 0644)
		if err != nil {
			return nil, ErrAlreadyLocked
		}
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
