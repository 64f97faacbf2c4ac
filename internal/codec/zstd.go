package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd wraps github.com/klauspost/compress/zstd. A single encoder and
// decoder pair is reused across calls; both are safe for concurrent use per
// the klauspost/compress documentation.
type Zstd struct{}

func (Zstd) Name() string { return "zstd" }

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdEncErr  error

	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
	zstdDecErr  error
)

func zstdEncoder() (*zstd.Encoder, error) {
	zstdEncOnce.Do(func() {
		zstdEnc, zstdEncErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEnc, zstdEncErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	zstdDecOnce.Do(func() {
		zstdDec, zstdDecErr = zstd.NewReader(nil)
	})
	return zstdDec, zstdDecErr
}

func (Zstd) Compress(src []byte) ([]byte, error) {
	enc, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return enc.EncodeAll(src, nil), nil
}

func (Zstd) Decompress(src []byte, dstLen int) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	var dst []byte
	if dstLen > 0 {
		dst = make([]byte, 0, dstLen)
	}
	return dec.DecodeAll(src, dst)
}
