package handlers

import (
	"bytes"
	"testing"
)

func TestReverse(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"a":         "a",
		"request 7": "7 tseuqer",
		"héllo":     "olléh",
	}
	for in, want := range cases {
		if got := string(Reverse([]byte(in))); got != want {
			t.Fatalf("Reverse(%q)=%q want %q", in, got, want)
		}
	}
}

func TestReverseInvalidUTF8ByBytes(t *testing.T) {
	in := []byte{0xff, 0x01, 0x02}
	if got := Reverse(in); !bytes.Equal(got, []byte{0x02, 0x01, 0xff}) {
		t.Fatalf("unexpected reversal: %v", got)
	}
}

func TestLookup(t *testing.T) {
	h, err := Lookup(" Reverse ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	out, err := h([]byte("abc"))
	if err != nil || string(out) != "cba" {
		t.Fatalf("unexpected handler result out=%q err=%v", out, err)
	}
	if _, err := Lookup("upper"); err == nil {
		t.Fatalf("expected unknown handler error")
	}
	if names := Names(); len(names) != 2 || names[0] != NameEcho || names[1] != NameReverse {
		t.Fatalf("unexpected names: %v", names)
	}
}
