// Package codec defines the block compression interface. The core only
// depends on the Codec interface (spec.md section 1 lists compression codec
// plugins as an external, interface-only collaborator); this package also
// ships the stock Snappy/LZ4/Zstd/None implementations selectable by name
// via the table metadata's `compression#data` / `compression#index` records.
package codec

import "fmt"

// Codec compresses and decompresses block payloads. Implementations must be
// safe for concurrent use — the same Codec instance is shared across every
// writer and reader that selected it.
type Codec interface {
	// Name identifies the codec in a table's metadata block
	// (`compression#data` / `compression#index`); it must be stable across
	// versions since it is part of the persisted format.
	Name() string

	// Compress returns the compressed form of src.
	Compress(src []byte) ([]byte, error)

	// Decompress returns the decompressed form of src. dstLen, when
	// non-zero, is the known uncompressed length recorded in the block
	// header; codecs that need it to decompress in one pass (LZ4) use it,
	// others ignore it.
	Decompress(src []byte, dstLen int) ([]byte, error)
}

var registry = map[string]Codec{}

func register(c Codec) { registry[c.Name()] = c }

// ByName returns the registered codec with the given name, or false if no
// such codec is known. Table readers use this to resolve the
// `compression#data`/`compression#index` metadata record back to a Codec.
func ByName(name string) (Codec, bool) {
	c, ok := registry[name]
	return c, ok
}

// MustByName is like ByName but panics on an unknown name — used when the
// caller already validated the name (e.g. Options.Validate).
func MustByName(name string) Codec {
	c, ok := ByName(name)
	if !ok {
		panic(fmt.Sprintf("codec: unknown codec %q", name))
	}
	return c
}

func init() {
	register(None{})
	register(Snappy{})
	register(LZ4{})
	register(Zstd{})
}
