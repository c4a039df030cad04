package blob

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestPlainRoundTrip(t *testing.T) {
	for _, text := range []string{"", "hello", strings.Repeat("memory ", 500)} {
		payload, err := Encode(text, nil)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if !bytes.HasPrefix(payload, gzipMagic) {
			t.Fatal("plain payload must start with gzip magic")
		}
		got, err := Decode(payload, nil)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != text {
			t.Errorf("round trip changed content")
		}
	}
}

func TestSealedRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	payload, err := Encode("secret memory", key)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.HasPrefix(payload, gzipMagic) {
		t.Fatal("sealed payload must not look like plain gzip")
	}

	t.Run("with key", func(t *testing.T) {
		got, err := Decode(payload, key)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != "secret memory" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("without key", func(t *testing.T) {
		if _, err := Decode(payload, nil); !errors.Is(err, ErrSealedNoKey) {
			t.Errorf("err = %v, want ErrSealedNoKey", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		wrong := bytes.Repeat([]byte{0x13}, KeySize)
		if _, err := Decode(payload, wrong); !errors.Is(err, ErrBadKey) {
			t.Errorf("err = %v, want ErrBadKey", err)
		}
	})
}

func TestDecodeSniffsFrame(t *testing.T) {
	// A key is configured but the payload was written plain: reads still
	// work, the sniff takes the gzip path.
	key := bytes.Repeat([]byte{0x42}, KeySize)
	payload, err := Encode("plain but key configured", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(payload, key)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "plain but key configured" {
		t.Errorf("got %q", got)
	}
}

func TestBadKeyLength(t *testing.T) {
	if _, err := Encode("x", []byte("short")); err == nil {
		t.Error("short key must fail")
	}
}
