package config

import (
	"strings"
	"testing"
	"time"
)

// setRequiredEnv は必須環境変数をすべて設定する。
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("DISCORD_PUBLIC_KEY", "abcd")
	t.Setenv("DISCORD_GUILD_ID", "guild-1")
	t.Setenv("GOOGLE_SHEETS_ID", "sheet-1")
	t.Setenv("GOOGLE_CREDENTIALS_FILE", "/etc/creds.json")
}

func TestLoad_AllRequiredSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}

	if cfg.DiscordBotToken != "token" || cfg.GoogleSheetsID != "sheet-1" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_MissingRequiredListsAll(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("GOOGLE_SHEETS_ID", "")

	_, err := Load()
	if err == nil {
		t.Fatal("必須環境変数の欠落時はエラーを返すべき")
	}
	// 欠けている変数がすべて列挙される
	if !strings.Contains(err.Error(), "DISCORD_BOT_TOKEN") || !strings.Contains(err.Error(), "GOOGLE_SHEETS_ID") {
		t.Errorf("エラーメッセージに欠落変数が列挙されていない: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}

	if cfg.WorksheetName != "Members" {
		t.Errorf("WorksheetName = %q, want Members", cfg.WorksheetName)
	}
	if cfg.ArchiveWorksheetName != "Alumni" {
		t.Errorf("ArchiveWorksheetName = %q, want Alumni", cfg.ArchiveWorksheetName)
	}
	if cfg.RoleMappingFile != "role_mapping.json" {
		t.Errorf("RoleMappingFile = %q, want role_mapping.json", cfg.RoleMappingFile)
	}
	if cfg.RunTimeout != 5*time.Minute {
		t.Errorf("RunTimeout = %v, want 5m", cfg.RunTimeout)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKSHEET_NAME", "Roster")
	t.Setenv("RUN_TIMEOUT", "30s")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}

	if cfg.WorksheetName != "Roster" || cfg.RunTimeout != 30*time.Second || cfg.ServerPort != "9090" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RUN_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() がエラーを返した: %v", err)
	}
	if cfg.RunTimeout != 5*time.Minute {
		t.Errorf("RunTimeout = %v, 不正な値はデフォルトに戻るべき", cfg.RunTimeout)
	}
}

func TestOutlineConfigured(t *testing.T) {
	setRequiredEnv(t)

	cases := []struct {
		url, token string
		want       bool
	}{
		{"", "", false},
		{"https://outline.example.com/api", "", false},
		{"", "tok", false},
		{"https://outline.example.com/api", "tok", true},
	}
	for _, c := range cases {
		t.Setenv("OUTLINE_API_URL", c.url)
		t.Setenv("OUTLINE_API_TOKEN", c.token)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() がエラーを返した: %v", err)
		}
		if got := cfg.OutlineConfigured(); got != c.want {
			t.Errorf("OutlineConfigured(url=%q, token=%q) = %t, want %t", c.url, c.token, got, c.want)
		}
	}
}
