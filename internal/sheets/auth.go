// Package sheets はGoogle Sheetsをメンバーデータベースとして読み書きするクライアントを提供する。
package sheets

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
)

// scopeSpreadsheets はシートの読み書きに必要なOAuthスコープ。
const scopeSpreadsheets = "https://www.googleapis.com/auth/spreadsheets"

// NewServiceAccountClient はサービスアカウントの鍵ファイルから
// 認証済みHTTPクライアントを生成する。
// トークンの取得と更新はoauth2のTokenSourceが透過的に行う。
func NewServiceAccountClient(ctx context.Context, credentialsFile string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("サービスアカウント鍵ファイルの読み込みに失敗しました: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(data, scopeSpreadsheets)
	if err != nil {
		return nil, fmt.Errorf("サービスアカウント鍵のパースに失敗しました: %w", err)
	}

	return cfg.Client(ctx), nil
}
