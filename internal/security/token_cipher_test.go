package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestNewTokenCipher_InvalidKeyLength_ReturnsError(t *testing.T) {
	for _, size := range []int{0, 16, 24, 31, 33, 64} {
		if _, err := NewTokenCipher(make([]byte, size)); err == nil {
			t.Errorf("key size %d: expected error, got nil", size)
		}
	}
}

func TestTokenCipher_EncryptDecrypt_Roundtrip(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plaintexts := []string{
		"access-token-value",
		"",
		"日本語を含むトークン",
		strings.Repeat("x", 4096),
	}

	for _, plaintext := range plaintexts {
		encrypted, err := cipher.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) error: %v", plaintext, err)
		}

		decrypted, err := cipher.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt error: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("roundtrip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestTokenCipher_Encrypt_DistinctCiphertexts(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 同一平文でもnonceが毎回ランダムなため暗号文は異なる
	first, err := cipher.Encrypt("same-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cipher.Encrypt("same-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first == second {
		t.Error("expected distinct ciphertexts for the same plaintext")
	}
}

func TestTokenCipher_Decrypt_BitFlip_ReturnsTampered(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encrypted, err := cipher.Encrypt("secret-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 暗号文の1ビットを反転させる
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := cipher.Decrypt(tampered); !errors.Is(err, ErrTampered) {
		t.Errorf("expected ErrTampered, got %v", err)
	}
}

func TestTokenCipher_Decrypt_WrongKey_ReturnsTampered(t *testing.T) {
	cipherA, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cipherB, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encrypted, err := cipherA.Encrypt("secret-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := cipherB.Decrypt(encrypted); !errors.Is(err, ErrTampered) {
		t.Errorf("expected ErrTampered for wrong key, got %v", err)
	}
}

func TestTokenCipher_Decrypt_InvalidFormat(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"base64ではない文字列", "not-valid-base64!!!"},
		{"nonceより短いブロブ", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"空文字列でも形式不正", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cipher.Decrypt(tt.input); !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}

func TestGenerateKey_Returns32Bytes(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	other, err := GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Equal(key, other) {
		t.Error("expected distinct keys across generations")
	}
}
