package codec

import "github.com/golang/snappy"

// Snappy wraps github.com/golang/snappy.
type Snappy struct{}

func (Snappy) Name() string { return "snappy" }

func (Snappy) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (Snappy) Decompress(src []byte, dstLen int) ([]byte, error) {
	return snappy.Decode(nil, src)
}
