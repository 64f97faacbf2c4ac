package wal

import (
	"errors"
	"io"

	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/encoding"
)

// FileReader is a reference Reader implementation, reassembling the
// fragments FileWriter produces.
type FileReader struct {
	src io.Reader
	buf []byte
	pos int
	eof bool
}

// NewFileReader returns a Reader reading from the start of src.
func NewFileReader(src io.Reader) *FileReader {
	return &FileReader{src: src}
}

// Next implements Reader.
func (r *FileReader) Next() ([]byte, error) {
	var record []byte
	inFragment := false

	for {
		t, payload, err := r.nextFragment()
		if err != nil {
			return nil, err
		}

		switch t {
		case recordFull:
			if inFragment {
				return nil, ErrCorrupt
			}
			return payload, nil
		case recordFirst:
			if inFragment {
				return nil, ErrCorrupt
			}
			record = append([]byte(nil), payload...)
			inFragment = true
		case recordMiddle:
			if !inFragment {
				return nil, ErrCorrupt
			}
			record = append(record, payload...)
		case recordLast:
			if !inFragment {
				return nil, ErrCorrupt
			}
			record = append(record, payload...)
			return record, nil
		default:
			return nil, ErrCorrupt
		}
	}
}

// nextFragment reads one physical record, skipping block padding.
func (r *FileReader) nextFragment() (recordType, []byte, error) {
	for {
		leftover := blockSize - r.pos%blockSize
		if leftover < headerSize {
			if err := r.skip(leftover); err != nil {
				return 0, nil, err
			}
			continue
		}

		header := make([]byte, headerSize)
		if err := r.readFull(header); err != nil {
			// A clean end of log, or a header truncated by a crash
			// mid-write, both mean there is nothing more to recover.
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, nil, io.EOF
			}
			return 0, nil, err
		}

		length := int(header[8]) | int(header[9])<<8
		t := recordType(header[10])
		if t == recordZero {
			// Preallocated-but-unwritten tail; treat as end of log.
			return 0, nil, io.EOF
		}

		payload := make([]byte, length)
		if err := r.readFull(payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, nil, io.EOF
			}
			return 0, nil, ErrCorrupt
		}

		want := encoding.DecodeFixed64(header[:8])
		got := checksum.Fingerprint64(append([]byte{header[10]}, payload...))
		if want != got {
			return 0, nil, ErrCorrupt
		}

		return t, payload, nil
	}
}

func (r *FileReader) readFull(dst []byte) error {
	n, err := io.ReadFull(r.src, dst)
	r.pos += n
	return err
}

func (r *FileReader) skip(n int) error {
	if n == 0 {
		return nil
	}
	written, err := io.CopyN(io.Discard, r.src, int64(n))
	r.pos += int(written)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return err
	}
	return nil
}

// Close implements Reader.
func (r *FileReader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
