package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/dbformat"
)

// ErrCorrupt is returned when a manifest file is truncated or malformed.
var ErrCorrupt = errors.New("manifest: corrupt manifest file")

// ErrBadMagic is returned when a file does not begin with Magic.
var ErrBadMagic = errors.New("manifest: bad magic")

// extension tags, appended after the base id lists spec.md section 6
// specifies. Readers that don't recognize a tag skip it using its length
// prefix, the same forward-compatibility shape as the teacher's
// NewFileCustomTag scheme, trimmed to the fields this engine persists.
const (
	tagTableInfo byte = 1
	tagTerminate byte = 0xFF
)

// Encode serializes s to the exact wire format spec.md section 6 names for
// the base section (magic, u8 level count, per level a u32 table count
// followed by u64 table ids, all big-endian), followed by an extension
// section carrying per-table Info so a reopen need not re-read every table
// file's trailer to validate it.
func Encode(s Snapshot) []byte {
	buf := make([]byte, 0, 4+1+NumLevels*4+64)
	buf = append(buf, Magic[:]...)
	buf = append(buf, byte(NumLevels))
	for i := 0; i < NumLevels; i++ {
		ids := s.Levels[i]
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
		for _, id := range ids {
			buf = binary.BigEndian.AppendUint64(buf, id)
		}
	}

	for _, info := range s.Tables {
		rec := encodeInfo(info)
		buf = append(buf, tagTableInfo)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(rec)))
		buf = append(buf, rec...)
	}
	buf = append(buf, tagTerminate)
	return buf
}

func encodeInfo(info Info) []byte {
	buf := make([]byte, 0, 8+8+2+len(info.Smallest)+2+len(info.Largest)+8+8+16)
	buf = binary.BigEndian.AppendUint64(buf, info.TableID)
	buf = binary.BigEndian.AppendUint64(buf, info.Size)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(info.Smallest)))
	buf = append(buf, info.Smallest...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(info.Largest)))
	buf = append(buf, info.Largest...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(info.SeqLo))
	buf = binary.BigEndian.AppendUint64(buf, uint64(info.SeqHi))
	buf = binary.BigEndian.AppendUint64(buf, info.Checksum.Hi)
	buf = binary.BigEndian.AppendUint64(buf, info.Checksum.Lo)
	return buf
}

func decodeInfo(data []byte) (Info, error) {
	var info Info
	r := data
	take := func(n int) ([]byte, error) {
		if len(r) < n {
			return nil, ErrCorrupt
		}
		b := r[:n]
		r = r[n:]
		return b, nil
	}

	b, err := take(8)
	if err != nil {
		return Info{}, err
	}
	info.TableID = binary.BigEndian.Uint64(b)

	if b, err = take(8); err != nil {
		return Info{}, err
	}
	info.Size = binary.BigEndian.Uint64(b)

	if b, err = take(2); err != nil {
		return Info{}, err
	}
	n := int(binary.BigEndian.Uint16(b))
	if b, err = take(n); err != nil {
		return Info{}, err
	}
	info.Smallest = dbformat.InternalKey(append([]byte(nil), b...))

	if b, err = take(2); err != nil {
		return Info{}, err
	}
	n = int(binary.BigEndian.Uint16(b))
	if b, err = take(n); err != nil {
		return Info{}, err
	}
	info.Largest = dbformat.InternalKey(append([]byte(nil), b...))

	if b, err = take(8); err != nil {
		return Info{}, err
	}
	info.SeqLo = dbformat.SeqNo(binary.BigEndian.Uint64(b))

	if b, err = take(8); err != nil {
		return Info{}, err
	}
	info.SeqHi = dbformat.SeqNo(binary.BigEndian.Uint64(b))

	if b, err = take(8); err != nil {
		return Info{}, err
	}
	hi := binary.BigEndian.Uint64(b)
	if b, err = take(8); err != nil {
		return Info{}, err
	}
	lo := binary.BigEndian.Uint64(b)
	info.Checksum = checksum.Digest128{Hi: hi, Lo: lo}

	if len(r) != 0 {
		return Info{}, fmt.Errorf("%w: trailing bytes in table info record", ErrCorrupt)
	}
	return info, nil
}

// Decode parses the wire format Encode produces.
func Decode(data []byte) (Snapshot, error) {
	if len(data) < 5 || [4]byte(data[:4]) != Magic {
		return Snapshot{}, ErrBadMagic
	}
	levelCount := int(data[4])
	if levelCount != NumLevels {
		return Snapshot{}, fmt.Errorf("%w: level count %d, want %d", ErrCorrupt, levelCount, NumLevels)
	}
	r := data[5:]
	s := NewSnapshot()

	for i := 0; i < NumLevels; i++ {
		if len(r) < 4 {
			return Snapshot{}, ErrCorrupt
		}
		count := binary.BigEndian.Uint32(r)
		r = r[4:]
		if count > 0 {
			ids := make([]uint64, count)
			for j := range ids {
				if len(r) < 8 {
					return Snapshot{}, ErrCorrupt
				}
				ids[j] = binary.BigEndian.Uint64(r)
				r = r[8:]
			}
			s.Levels[i] = ids
		}
	}

	for {
		if len(r) < 1 {
			return Snapshot{}, fmt.Errorf("%w: missing extension terminator", ErrCorrupt)
		}
		tag := r[0]
		r = r[1:]
		if tag == tagTerminate {
			break
		}
		if len(r) < 4 {
			return Snapshot{}, ErrCorrupt
		}
		length := binary.BigEndian.Uint32(r)
		r = r[4:]
		if uint32(len(r)) < length {
			return Snapshot{}, ErrCorrupt
		}
		rec := r[:length]
		r = r[length:]

		switch tag {
		case tagTableInfo:
			info, err := decodeInfo(rec)
			if err != nil {
				return Snapshot{}, err
			}
			s.Tables[info.TableID] = info
		default:
			// Unrecognized tag: the safe-to-ignore shape means any tag
			// without special meaning here is simply skipped, matching the
			// teacher's forward-compatibility rule for MANIFEST readers.
		}
	}

	if len(r) != 0 {
		return Snapshot{}, fmt.Errorf("%w: trailing bytes after manifest terminator", ErrCorrupt)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
