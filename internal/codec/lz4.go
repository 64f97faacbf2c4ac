package codec

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// LZ4 wraps github.com/pierrec/lz4/v4's raw block format. Unlike the LZ4
// frame format, raw blocks carry no embedded size, so the block header's
// uncompressed_length field (spec.md section 4.1) must be passed back in on
// decompress.
type LZ4 struct{}

func (LZ4) Name() string { return "lz4" }

func (LZ4) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(src, dst, ht[:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible input: CompressBlock returns 0 rather than
		// growing the output. Report ErrIncompressible; the table writer
		// then stores the block uncompressed.
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

// ErrIncompressible is returned by LZ4.Compress when the input did not
// shrink; callers should fall back to storing the block with None instead.
var ErrIncompressible = fmt.Errorf("lz4: input did not compress")

func (LZ4) Decompress(src []byte, dstLen int) ([]byte, error) {
	if dstLen <= 0 {
		return nil, fmt.Errorf("lz4: decompress requires a known uncompressed length")
	}
	dst := make([]byte, dstLen)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:n], nil
}
