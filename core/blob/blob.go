// Package blob encodes memory content for storage: gzip-framed, and
// sealed with ChaCha20-Poly1305 when the tenant has a key configured.
// Reads sniff the frame: a gzip magic prefix means plaintext-compressed;
// anything else is treated as sealed.
package blob

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required byte length of a sealing key.
const KeySize = chacha20poly1305.KeySize

var (
	// ErrSealedNoKey means the payload has no gzip magic (so it must be
	// sealed) but no key was supplied.
	ErrSealedNoKey = errors.New("blob: content is sealed but no key provided")
	// ErrBadKey means decryption failed, usually a wrong or rotated key.
	ErrBadKey = errors.New("blob: cannot open sealed content")
)

var gzipMagic = []byte{0x1f, 0x8b}

// Encode compresses text and, when key is non-nil, seals the compressed
// frame. The result is what the memory store keeps.
func Encode(text string, key []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("blob: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("blob: compress: %w", err)
	}
	if key == nil {
		return buf.Bytes(), nil
	}
	return seal(buf.Bytes(), key)
}

// Decode reverses Encode. Key may be nil when the payload was never
// sealed.
func Decode(payload []byte, key []byte) (string, error) {
	if bytes.HasPrefix(payload, gzipMagic) {
		return decompress(payload)
	}
	if key == nil {
		return "", ErrSealedNoKey
	}
	frame, err := open(payload, key)
	if err != nil {
		return "", err
	}
	return decompress(frame)
}

func decompress(frame []byte) (string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("blob: decompress: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("blob: decompress: %w", err)
	}
	return string(raw), nil
}

func seal(frame, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("blob: seal: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(frame)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("blob: seal: %w", err)
	}
	return aead.Seal(nonce, nonce, frame, nil), nil
}

func open(payload, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("blob: open: %w", err)
	}
	if len(payload) < aead.NonceSize() {
		return nil, ErrBadKey
	}
	nonce, box := payload[:aead.NonceSize()], payload[aead.NonceSize():]
	frame, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, ErrBadKey
	}
	return frame, nil
}
