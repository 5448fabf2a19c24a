package util

import "testing"

func TestRandomHexLength(t *testing.T) {
	s := RandomHex(8)
	if len(s) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%q)", len(s), s)
	}
	for _, r := range s {
		if !strings_ContainsRune("0123456789abcdef", r) {
			t.Fatalf("non-hex rune %q in %q", r, s)
		}
	}
}

func strings_ContainsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

func TestRandomTokenLength(t *testing.T) {
	s := RandomToken(20)
	if len(s) != 20 {
		t.Fatalf("expected len 20, got %d", len(s))
	}
}

func TestSHA256HexDeterministic(t *testing.T) {
	a := SHA256Hex("hello")
	b := SHA256Hex("hello")
	if a != b {
		t.Fatalf("expected deterministic hash, got %q != %q", a, b)
	}
	if a == SHA256Hex("hello2") {
		t.Fatalf("expected different hashes for different input")
	}
}

func TestHashToU64Deterministic(t *testing.T) {
	if HashToU64("abc") != HashToU64("abc") {
		t.Fatalf("expected deterministic hash_to_u64")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Hello, World! foo_bar-baz 123")
	want := []string{"hello", "world", "foo_bar-baz", "123"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestTokenizeStableAndPreservesDuplicates(t *testing.T) {
	first := Tokenize("a a b")
	second := Tokenize("a a b")
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected duplicates preserved, got %v and %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("tokenize not stable across calls: %v vs %v", first, second)
		}
	}
}

func TestShuffleStringsPreservesElements(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e"}
	shuffled := append([]string(nil), in...)
	ShuffleStrings(shuffled)
	if len(shuffled) != len(in) {
		t.Fatalf("expected same length, got %d", len(shuffled))
	}
	seen := map[string]bool{}
	for _, s := range shuffled {
		seen[s] = true
	}
	for _, s := range in {
		if !seen[s] {
			t.Fatalf("expected %q to survive shuffle", s)
		}
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if got := Tokenize("   !!! ..."); len(got) != 0 {
		t.Fatalf("expected no tokens, got %v", got)
	}
}
