// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TokenCipher はデータプロバイダーのアクセストークン・リフレッシュトークンを
// 保存前にAES-256-GCMで暗号化する。認証付き暗号のため、改ざんされた
// 暗号文は復号時に必ず検出される。
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// 復号失敗の分類エラー。
// errors.Isで判別できるよう、ラップして返す。
var (
	// ErrTampered は認証タグの検証失敗（改ざん・鍵不一致）を表す。
	ErrTampered = errors.New("ciphertext authentication failed")
	// ErrInvalidFormat は暗号文ブロブの形式不正を表す。
	ErrInvalidFormat = errors.New("invalid ciphertext format")
)

// TokenCipher はAES-256-GCMによるトークンの暗号化・復号を提供する。
// 鍵はプロセス起動時に1回導出され、プロセス生存中はキャッシュされる。
// 鍵・平文トークンは決してログに出力しない。
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher はTokenCipherを生成する。
// keyはAES-256用に32バイトちょうどである必要がある。
// 鍵の不備は起動時エラーとして扱うこと。
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes for AES-256, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Encrypt は平文を暗号化し、base64エンコードされたブロブを返す。
// 呼び出しごとにランダムなnonceを生成するため、同一平文でも
// 毎回異なる暗号文になる。
// 保存形式: base64( nonce || ciphertext )
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Sealの出力先にnonceスライスを渡すことで [nonce][ciphertext] 形式を作る
	ciphertext := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt はbase64エンコードされたブロブを復号して平文を返す。
// 形式不正はErrInvalidFormat、認証タグ不一致はErrTamperedにラップして返す。
// いずれの失敗も操作を中断すべき致命的エラーであり、黙殺してはならない。
func (c *TokenCipher) Decrypt(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode base64", ErrInvalidFormat)
	}

	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrInvalidFormat)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTampered, err)
	}

	return string(plaintext), nil
}

// GenerateKey はAES-256用の32バイト鍵を新規生成する。
// セットアップ時の鍵生成ユーティリティ。
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}
