package store

import (
	"bytes"
	"strings"
	"testing"
)

func TestCodec_RoundTrip(t *testing.T) {
	large := []byte(strings.Repeat("bench press 3x8 at 80kg; ", 100))

	tests := []struct {
		name           string
		secret         []byte
		payload        []byte
		compress       bool
		encrypt        bool
		wantCompressed bool
		wantEncrypted  bool
	}{
		{
			name:    "plain passthrough",
			payload: []byte(`{"id":"w1"}`),
		},
		{
			name:           "compress large payload",
			payload:        large,
			compress:       true,
			wantCompressed: true,
		},
		{
			name:     "small payload skips compression",
			payload:  []byte(`{"id":"w1"}`),
			compress: true,
		},
		{
			name:          "encrypt only",
			secret:        []byte("device-secret"),
			payload:       []byte(`{"id":"w1"}`),
			encrypt:       true,
			wantEncrypted: true,
		},
		{
			name:           "compress then encrypt",
			secret:         []byte("device-secret"),
			payload:        large,
			compress:       true,
			encrypt:        true,
			wantCompressed: true,
			wantEncrypted:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := newCodec(tt.secret)
			if err != nil {
				t.Fatalf("newCodec() error = %v", err)
			}

			data, compressed, encrypted, err := c.encode(tt.payload, tt.compress, tt.encrypt)
			if err != nil {
				t.Fatalf("encode() error = %v", err)
			}
			if compressed != tt.wantCompressed {
				t.Errorf("compressed = %v, want %v", compressed, tt.wantCompressed)
			}
			if encrypted != tt.wantEncrypted {
				t.Errorf("encrypted = %v, want %v", encrypted, tt.wantEncrypted)
			}
			if encrypted && bytes.Contains(data, []byte("bench press")) {
				t.Error("ciphertext contains plaintext")
			}
			if compressed && len(data) >= len(tt.payload) && !encrypted {
				t.Errorf("compression did not shrink payload: %d >= %d", len(data), len(tt.payload))
			}

			plain, err := c.decode(data, compressed, encrypted)
			if err != nil {
				t.Fatalf("decode() error = %v", err)
			}
			if !bytes.Equal(plain, tt.payload) {
				t.Error("round trip does not match original payload")
			}
		})
	}
}

func TestCodec_EncryptWithoutSecret(t *testing.T) {
	c, err := newCodec(nil)
	if err != nil {
		t.Fatalf("newCodec() error = %v", err)
	}
	if _, _, _, err := c.encode([]byte("data"), false, true); err == nil {
		t.Error("encode with encryption but no secret should fail")
	}
}

func TestCodec_DecryptWithWrongSecret(t *testing.T) {
	c1, _ := newCodec([]byte("secret-one"))
	c2, _ := newCodec([]byte("secret-two"))

	data, _, _, err := c1.encode([]byte(`{"id":"w1"}`), false, true)
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}

	if _, err := c2.decode(data, false, true); err == nil {
		t.Error("decode with wrong secret should fail")
	}
}

func TestCodec_TruncatedCiphertext(t *testing.T) {
	c, _ := newCodec([]byte("device-secret"))
	if _, err := c.decode([]byte{0x01, 0x02}, false, true); err == nil {
		t.Error("decode of truncated ciphertext should fail")
	}
}
