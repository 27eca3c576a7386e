// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// ロール→グループのマッピングは別途 role_mapping.json から読み込む（リロード可能）。
type Config struct {
	// Discord
	DiscordBotToken  string
	DiscordPublicKey string // インタラクション署名検証用のEd25519公開鍵（hex）
	DiscordGuildID   string

	// Google Sheets
	GoogleSheetsID        string
	GoogleCredentialsFile string
	WorksheetName         string
	ArchiveWorksheetName  string

	// Outline（任意。未設定の場合はOutline連携コマンドが設定エラーを報告する）
	OutlineAPIURL   string
	OutlineAPIToken string

	// Mapping
	RoleMappingFile string

	// Sync
	RunTimeout time.Duration

	// Server
	ServerPort string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// この検証はコマンド処理を開始する前に行われ、失敗は起動時の致命的エラーとなる。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DiscordBotToken = os.Getenv("DISCORD_BOT_TOKEN")
	if cfg.DiscordBotToken == "" {
		missing = append(missing, "DISCORD_BOT_TOKEN")
	}

	cfg.DiscordPublicKey = os.Getenv("DISCORD_PUBLIC_KEY")
	if cfg.DiscordPublicKey == "" {
		missing = append(missing, "DISCORD_PUBLIC_KEY")
	}

	cfg.DiscordGuildID = os.Getenv("DISCORD_GUILD_ID")
	if cfg.DiscordGuildID == "" {
		missing = append(missing, "DISCORD_GUILD_ID")
	}

	cfg.GoogleSheetsID = os.Getenv("GOOGLE_SHEETS_ID")
	if cfg.GoogleSheetsID == "" {
		missing = append(missing, "GOOGLE_SHEETS_ID")
	}

	cfg.GoogleCredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	if cfg.GoogleCredentialsFile == "" {
		missing = append(missing, "GOOGLE_CREDENTIALS_FILE")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.WorksheetName = getEnvString("WORKSHEET_NAME", "Members")
	cfg.ArchiveWorksheetName = getEnvString("ARCHIVE_WORKSHEET_NAME", "Alumni")
	cfg.OutlineAPIURL = os.Getenv("OUTLINE_API_URL")
	cfg.OutlineAPIToken = os.Getenv("OUTLINE_API_TOKEN")
	cfg.RoleMappingFile = getEnvString("ROLE_MAPPING_FILE", "role_mapping.json")
	cfg.RunTimeout = getEnvDuration("RUN_TIMEOUT", 5*time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// OutlineConfigured はOutline APIの接続情報が揃っているかを返す。
// URLとトークンは対で設定される必要がある。
func (c *Config) OutlineConfigured() bool {
	return c.OutlineAPIURL != "" && c.OutlineAPIToken != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
