package prefixext

import "testing"

func TestFixedPrefix(t *testing.T) {
	e := FixedPrefix(3)
	if !e.InDomain([]byte("abcdef")) {
		t.Fatal("6-byte key should be in domain for prefix length 3")
	}
	if e.InDomain([]byte("ab")) {
		t.Fatal("2-byte key should be out of domain for prefix length 3")
	}
	if string(e.Transform([]byte("abcdef"))) != "abc" {
		t.Fatalf("got %q", e.Transform([]byte("abcdef")))
	}
}

func TestFixedLengthAllKeysInDomain(t *testing.T) {
	e := FixedLength(4)
	if !e.InDomain([]byte("ab")) {
		t.Fatal("short keys must be in domain for FixedLength")
	}
	if string(e.Transform([]byte("ab"))) != "ab" {
		t.Fatalf("short key transform should return itself, got %q", e.Transform([]byte("ab")))
	}
	if string(e.Transform([]byte("abcdefgh"))) != "abcd" {
		t.Fatalf("got %q", e.Transform([]byte("abcdefgh")))
	}
}

func TestFullKeyIsIdentity(t *testing.T) {
	e := FullKey()
	key := []byte("anything")
	if string(e.Transform(key)) != string(key) {
		t.Fatal("FullKey must return the key unchanged")
	}
	if !e.InDomain(key) {
		t.Fatal("FullKey has no out-of-domain keys")
	}
}

func TestCustomExtractor(t *testing.T) {
	e := Custom("even-length", func(k []byte) []byte {
		if len(k)%2 != 0 {
			return k[:len(k)-1]
		}
		return k
	}, func(k []byte) bool { return len(k) > 0 })

	if e.Name() != "even-length" {
		t.Fatalf("got %q", e.Name())
	}
	if !e.InDomain([]byte("x")) || e.InDomain(nil) {
		t.Fatal("InDomain did not delegate correctly")
	}
	if string(e.Transform([]byte("abc"))) != "ab" {
		t.Fatalf("got %q", e.Transform([]byte("abc")))
	}
}

func TestNamesAreDistinctAndStable(t *testing.T) {
	names := map[string]bool{}
	for _, e := range []Extractor{FixedPrefix(1), FixedLength(1), FullKey()} {
		if names[e.Name()] {
			t.Fatalf("duplicate extractor name %q", e.Name())
		}
		names[e.Name()] = true
	}
}
