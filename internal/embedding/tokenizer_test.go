package embedding

import "testing"

func TestWordTokenizer_Tokenize(t *testing.T) {
	ids, attn, types := WordTokenizer{}.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d %d %d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsToken || ids[3] != sepToken {
		t.Errorf("ids = %v", ids)
	}
	for i, want := range []int64{1, 1, 1, 1, 0} {
		if attn[i] != want {
			t.Errorf("attention[%d] = %d, want %d", i, attn[i], want)
		}
	}
}

func TestWordTokenizer_truncates(t *testing.T) {
	ids, attn, _ := WordTokenizer{}.Tokenize("a b c d e f", 4)
	if ids[3] != sepToken {
		t.Errorf("last token = %d, want SEP", ids[3])
	}
	for i, v := range attn {
		if v != 1 {
			t.Errorf("attention[%d] = %d", i, v)
		}
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a \r\n b  c  ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %q", words)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty string should have no words")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	long := "the quick brown fox jumps over the lazy dog and keeps on running"
	if HashString(long) < 0 {
		t.Error("hash should be non-negative")
	}
}
