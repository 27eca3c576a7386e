// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/electrium-mobility/rolesync/internal/config"
	"github.com/electrium-mobility/rolesync/internal/discord"
	"github.com/electrium-mobility/rolesync/internal/handler"
	"github.com/electrium-mobility/rolesync/internal/logger"
	"github.com/electrium-mobility/rolesync/internal/mapping"
	"github.com/electrium-mobility/rolesync/internal/metrics"
	"github.com/electrium-mobility/rolesync/internal/outline"
	"github.com/electrium-mobility/rolesync/internal/reconcile"
	"github.com/electrium-mobility/rolesync/internal/report"
	"github.com/electrium-mobility/rolesync/internal/sheets"
	"github.com/electrium-mobility/rolesync/internal/status"
	syncworker "github.com/electrium-mobility/rolesync/internal/worker/rolesync"
)

// outlineTimeout はOutline APIへのHTTPリクエストのタイムアウト。
const outlineTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logger.SetupDefault(w, slog.LevelInfo)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("outline_configured", cfg.OutlineConfigured()),
	)

	switch cmd {
	case CommandSync:
		return runSync(cfg, args[1:])
	case CommandPromote:
		return runPromote(cfg)
	default:
		return runServe(cfg)
	}
}

// deps はワイヤリング済みの依存関係をまとめた構造体。
type deps struct {
	cfg        *config.Config
	discord    *discord.Client
	sheets     *sheets.Client
	outline    *outline.Client // Outline未設定の場合はnil
	mappings   *mapping.Store
	collector  *metrics.Collector
	registry   *prometheus.Registry
	reconciler *reconcile.Reconciler // Outline未設定の場合はnil
	engine     *status.Engine
}

// build は共通の依存関係を組み立てる。
// マッピング設定の読み込み失敗は警告にとどめ、起動は継続する。
// 再読み込みコマンドで修正後の設定を反映できる。
func build(ctx context.Context, cfg *config.Config) (*deps, error) {
	log := slog.Default()

	sheetsHTTP, err := sheets.NewServiceAccountClient(ctx, cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	sheetsClient := sheets.NewClient(sheetsHTTP, log, cfg.GoogleSheetsID)

	discordClient := discord.NewClient(
		&http.Client{Timeout: 15 * time.Second},
		log, cfg.DiscordBotToken, cfg.DiscordGuildID,
	)

	store := mapping.NewStore(cfg.RoleMappingFile, log)
	if err := store.Load(); err != nil {
		slog.Warn("マッピング設定の読み込みに失敗しました。再読み込みまで同期対象は空になります",
			slog.String("file", cfg.RoleMappingFile),
			slog.String("error", err.Error()),
		)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	d := &deps{
		cfg:       cfg,
		discord:   discordClient,
		sheets:    sheetsClient,
		mappings:  store,
		collector: collector,
		registry:  registry,
	}

	if cfg.OutlineConfigured() {
		d.outline = outline.NewClient(
			outline.NewSafeClient(outlineTimeout),
			log, cfg.OutlineAPIURL, cfg.OutlineAPIToken,
		)
		resolver := reconcile.NewDirectoryResolver(sheetsClient, d.outline, cfg.WorksheetName, log)
		d.reconciler = reconcile.NewReconciler(discordClient, d.outline, store, resolver, collector, log)
	}

	d.engine = status.NewEngine(discordClient, sheetsClient, collector, log,
		cfg.WorksheetName, cfg.ArchiveWorksheetName)

	return d, nil
}

// runServe はインタラクションサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーと定期同期スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	publicKey, err := discord.ParsePublicKey(cfg.DiscordPublicKey)
	if err != nil {
		return fmt.Errorf("invalid DISCORD_PUBLIC_KEY: %w", err)
	}

	ihDeps := handler.InteractionHandlerDeps{
		PublicKey: publicKey,
		Responder: d.discord,
		Roles:     d.discord,
		Members:   d.discord,
		Promoter:  d.engine,
		Mappings:  d.mappings,
		Sheets:    d.sheets,
		Worksheet: cfg.WorksheetName,
		Metrics:   d.collector,
		Logger:    slog.Default(),
		Timeout:   cfg.RunTimeout,
	}
	// nilの具象ポインタを非nilインターフェースにしないため、設定済みの場合のみ代入する
	if d.outline != nil {
		ihDeps.Groups = d.outline
		ihDeps.Syncer = d.reconciler
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:       slog.Default(),
		Interactions: handler.NewInteractionHandler(ihDeps),
		Gatherer:     d.registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 定期ステータス同期（設定で無効化可能）
	if settings := d.mappings.Settings(); settings.SyncMembers {
		scheduler := syncworker.NewScheduler(d.engine, slog.Default(), cfg.RunTimeout)
		interval := time.Duration(settings.SyncIntervalHours) * time.Hour
		go scheduler.Start(ctx, interval)
	} else {
		slog.Info("定期ステータス同期は無効です")
	}

	go func() {
		slog.Info("インタラクションサーバーを起動します",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("シャットダウンしています...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("サーバーを停止しました")
	return nil
}

// runSync はロール→グループ同期を1回実行し、結果を標準出力に表示する。
// --dry-run を指定すると差分の計算のみ行い、Outlineへの書き込みは行わない。
func runSync(cfg *config.Config, args []string) error {
	if !cfg.OutlineConfigured() {
		return fmt.Errorf("OUTLINE_API_URL and OUTLINE_API_TOKEN must be set for sync")
	}

	dryRun := false
	for _, a := range args {
		if a == "--dry-run" {
			dryRun = true
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer cancel()

	d, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	r, err := d.reconciler.Run(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Println(report.Format(r))
	return nil
}

// runPromote はステータス昇格を1回実行し、結果を標準出力に表示する。
func runPromote(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer cancel()

	d, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	r, err := d.engine.PromoteAll(ctx)
	if err != nil {
		return fmt.Errorf("promote failed: %w", err)
	}

	fmt.Println(report.FormatPromotion(r))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
