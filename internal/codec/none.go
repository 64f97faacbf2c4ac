package codec

// None is the identity codec, for callers that want per-block checksums and
// block framing but no compression.
type None struct{}

func (None) Name() string { return "none" }

func (None) Compress(src []byte) ([]byte, error) { return src, nil }

func (None) Decompress(src []byte, dstLen int) ([]byte, error) { return src, nil }
