//go:build windows

package vfs

import (
	"io"
	"os"
	"syscall"
)

type fileLock struct {
	f *os.File
}

// lockFile on Windows opens the file exclusively; this is weaker than the
// Unix flock but sufficient to catch the common case of a second process
// opening the same directory.
func lockFile(name string) (io.Closer, error) {
	p, err := syscall.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	// Share mode 0: no other handle can open the file while this one is open.
	h, err := syscall.CreateFile(p, syscall.GENERIC_READ|syscall.GENERIC_WRITE, 0, nil,
		syscall.OPEN_ALWAYS, syscall.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: os.NewFile(uintptr(h), name)}, nil
}

func (l *fileLock) Close() error { return l.f.Close() }
