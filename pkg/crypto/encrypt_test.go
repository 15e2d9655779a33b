package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"пустая строка", ""},
		{"api key", "abc123def456ghi789"},
		{"api secret", "Xy9+/=secret_with_symbols"},
		{"юникод", "Привет мир"},
		{"длинный секрет", strings.Repeat("a", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := Encrypt(tt.plaintext, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if _, err := base64.StdEncoding.DecodeString(encrypted); err != nil {
				t.Errorf("Encrypted result is not valid base64: %v", err)
			}

			decrypted, err := Decrypt(encrypted, key)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	key, _ := GenerateKey()
	a, _ := Encrypt("same", key)
	b, _ := Encrypt("same", key)
	if a == b {
		t.Error("two encryptions of the same secret must differ")
	}
}

func TestKeyLength(t *testing.T) {
	tests := []struct {
		name string
		key  []byte
		want error
	}{
		{"пустой ключ", nil, ErrInvalidKeyLength},
		{"16 байт", make([]byte, 16), ErrInvalidKeyLength},
		{"33 байта", make([]byte, 33), ErrInvalidKeyLength},
		{"32 байта", make([]byte, 32), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); !errors.Is(err, tt.want) {
				t.Errorf("ValidateKey() = %v, want %v", err, tt.want)
			}
			_, err := Encrypt("x", tt.key)
			if !errors.Is(err, tt.want) {
				t.Errorf("Encrypt() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecryptErrors(t *testing.T) {
	key, _ := GenerateKey()
	other, _ := GenerateKey()
	valid, _ := Encrypt("secret", key)

	raw, _ := base64.StdEncoding.DecodeString(valid)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name       string
		ciphertext string
		key        []byte
		want       error
	}{
		{"чужой ключ", valid, other, ErrDecryptionFailed},
		{"не base64", "!!!not-base64", key, ErrInvalidCiphertext},
		{"слишком короткий", base64.StdEncoding.EncodeToString([]byte("abc")), key, ErrCiphertextTooShort},
		{"подмененный шифротекст", tampered, key, ErrDecryptionFailed},
		{"короткий ключ", valid, key[:16], ErrInvalidKeyLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.ciphertext, tt.key); !errors.Is(err, tt.want) {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSecretRoundTrip(t *testing.T) {
	keyString := strings.Repeat("k", 32)
	enc, err := EncryptSecret("bybit-secret", keyString)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	got, err := DecryptSecret(enc, keyString)
	if err != nil {
		t.Fatalf("DecryptSecret failed: %v", err)
	}
	if got != "bybit-secret" {
		t.Errorf("DecryptSecret() = %q, want %q", got, "bybit-secret")
	}
}

func TestGenerateKeyString(t *testing.T) {
	key, err := GenerateKeyString()
	if err != nil {
		t.Fatalf("GenerateKeyString failed: %v", err)
	}
	if err := ValidateKey([]byte(key)); err != nil {
		t.Errorf("ValidateKey(%q) = %v, want nil", key, err)
	}

	enc, err := EncryptSecret("api-secret", key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	plain, err := DecryptSecret(enc, key)
	if err != nil || plain != "api-secret" {
		t.Errorf("DecryptSecret = %q, %v, want api-secret, nil", plain, err)
	}
}
