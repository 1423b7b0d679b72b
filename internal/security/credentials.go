package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/hitoshi/apptwatch/internal/model"
)

// keySalt は鍵導出用の固定ソルト。変更すると既存の暗号文は復号できなくなる。
var keySalt = []byte("apptwatch/credential-vault/v1")

// CredentialCipher は監視サイトのログイン情報の暗号化・復号インターフェース。
type CredentialCipher interface {
	Encrypt(creds model.Credentials) (string, error)
	Decrypt(blob string) (model.Credentials, error)
}

// CredentialVault はXChaCha20-Poly1305でログイン情報を暗号化する。
// 暗号文はbase64エンコードされた nonce||ciphertext 形式。
type CredentialVault struct {
	key []byte
}

// NewCredentialVault は秘密文字列からArgon2idで鍵を導出してVaultを生成する。
func NewCredentialVault(secret string) (*CredentialVault, error) {
	if secret == "" {
		return nil, errors.New("encryption key is empty")
	}
	key := argon2.IDKey([]byte(secret), keySalt, 1, 64*1024, 4, chacha20poly1305.KeySize)
	return &CredentialVault{key: key}, nil
}

// Encrypt はログイン情報をJSON化して暗号化する。
func (v *CredentialVault) Encrypt(creds model.Credentials) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt は暗号文を復号する。
// 鍵の不一致や改ざん、形式不正の場合は model.ErrDecryption を返す。
// 復号に失敗した入力値はエラーメッセージに含めない。
func (v *CredentialVault) Decrypt(blob string) (model.Credentials, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("failed to create cipher: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return model.Credentials{}, model.ErrDecryption
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return model.Credentials{}, model.ErrDecryption
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return model.Credentials{}, model.ErrDecryption
	}

	var creds model.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return model.Credentials{}, model.ErrDecryption
	}
	return creds, nil
}

var _ CredentialCipher = (*CredentialVault)(nil)
