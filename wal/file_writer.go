package wal

import (
	"io"

	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/encoding"
)

// FileWriter is a reference Writer implementation, fragmenting records
// across fixed-size blocks the way the teacher's own log writer does.
type FileWriter struct {
	dest        io.Writer
	blockOffset int
	header      [headerSize]byte
}

// NewFileWriter returns a Writer appending to dest from an empty log.
func NewFileWriter(dest io.Writer) *FileWriter {
	return &FileWriter{dest: dest}
}

// AddRecord implements Writer.
func (w *FileWriter) AddRecord(data []byte) error {
	ptr := data
	left := len(data)
	begin := true

	for {
		leftover := blockSize - w.blockOffset
		if leftover < headerSize {
			if leftover > 0 {
				if _, err := w.dest.Write(make([]byte, leftover)); err != nil {
					return err
				}
			}
			w.blockOffset = 0
			leftover = blockSize
		}

		avail := leftover - headerSize
		fragment := left
		if fragment > avail {
			fragment = avail
		}
		end := fragment == left

		var t recordType
		switch {
		case begin && end:
			t = recordFull
		case begin:
			t = recordFirst
		case end:
			t = recordLast
		default:
			t = recordMiddle
		}

		if err := w.emit(t, ptr[:fragment]); err != nil {
			return err
		}
		ptr = ptr[fragment:]
		left -= fragment
		begin = false

		if left == 0 {
			return nil
		}
	}
}

func (w *FileWriter) emit(t recordType, payload []byte) error {
	if len(payload) > 0xFFFF {
		panic("wal: record fragment too large")
	}

	w.header[8] = byte(len(payload))
	w.header[9] = byte(len(payload) >> 8)
	w.header[10] = byte(t)

	sum := checksum.Fingerprint64(append([]byte{byte(t)}, payload...))
	encoding.EncodeFixed64(w.header[:8], sum)

	if _, err := w.dest.Write(w.header[:]); err != nil {
		return err
	}
	if _, err := w.dest.Write(payload); err != nil {
		return err
	}
	w.blockOffset += headerSize + len(payload)
	return nil
}

// Sync implements Writer.
func (w *FileWriter) Sync() error {
	if s, ok := w.dest.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Close implements Writer.
func (w *FileWriter) Close() error {
	if c, ok := w.dest.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
