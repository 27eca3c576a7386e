package discord

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
)

// newTestKeyPair はテスト用のEd25519鍵ペアを生成する。
func newTestKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("鍵生成に失敗した: %v", err)
	}
	return pub, priv
}

// sign はDiscord仕様（タイムスタンプ+ボディの連結）で署名する。
func sign(priv ed25519.PrivateKey, timestamp string, body []byte) string {
	msg := append([]byte(timestamp), body...)
	return hex.EncodeToString(ed25519.Sign(priv, msg))
}

func TestParsePublicKey_RoundTrip(t *testing.T) {
	pub, _ := newTestKeyPair(t)

	parsed, err := ParsePublicKey(hex.EncodeToString(pub))
	if err != nil {
		t.Fatalf("ParsePublicKey() がエラーを返した: %v", err)
	}
	if !parsed.Equal(pub) {
		t.Error("パース結果が元の鍵と一致しない")
	}
}

func TestParsePublicKey_InvalidHex(t *testing.T) {
	if _, err := ParsePublicKey("not-hex"); err == nil {
		t.Error("不正なhex文字列はエラーを返すべき")
	}
}

func TestParsePublicKey_WrongLength(t *testing.T) {
	if _, err := ParsePublicKey("abcd"); err == nil {
		t.Error("長さ不足の鍵はエラーを返すべき")
	}
}

func TestVerifySignature_Valid(t *testing.T) {
	pub, priv := newTestKeyPair(t)
	body := []byte(`{"type":1}`)
	ts := "1700000000"

	if !VerifySignature(pub, ts, body, sign(priv, ts, body)) {
		t.Error("正しい署名が拒否された")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	pub, priv := newTestKeyPair(t)
	ts := "1700000000"
	sig := sign(priv, ts, []byte(`{"type":1}`))

	if VerifySignature(pub, ts, []byte(`{"type":2}`), sig) {
		t.Error("改ざんされたボディの署名が受理された")
	}
}

func TestVerifySignature_WrongTimestamp(t *testing.T) {
	pub, priv := newTestKeyPair(t)
	body := []byte(`{"type":1}`)
	sig := sign(priv, "1700000000", body)

	if VerifySignature(pub, "1700000001", body, sig) {
		t.Error("タイムスタンプの異なる署名が受理された")
	}
}

func TestVerifySignature_MalformedSignature(t *testing.T) {
	pub, _ := newTestKeyPair(t)

	if VerifySignature(pub, "1700000000", []byte("{}"), "zz") {
		t.Error("不正な形式の署名が受理された")
	}
}
