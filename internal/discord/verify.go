package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// インタラクション署名検証用のHTTPヘッダー名。
const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// ParsePublicKey はhex表現のEd25519公開鍵をパースする。
// Discordアプリケーション設定の公開鍵をそのまま渡す。
func ParsePublicKey(hexKey string) (ed25519.PublicKey, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("公開鍵のhexデコードに失敗しました: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("公開鍵の長さが不正です: %d", len(key))
	}
	return ed25519.PublicKey(key), nil
}

// VerifySignature はインタラクションリクエストの署名を検証する。
// Discordの仕様に従い、タイムスタンプ文字列とリクエストボディの連結に対する
// Ed25519署名を検証する。検証に失敗したリクエストは401で拒否すること。
func VerifySignature(pub ed25519.PublicKey, timestamp string, body []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, []byte(timestamp)...)
	msg = append(msg, body...)
	return ed25519.Verify(pub, msg, sig)
}
