package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/fediurl/internal/auth"
	"github.com/hitoshi/fediurl/internal/config"
	"github.com/hitoshi/fediurl/internal/database"
	"github.com/hitoshi/fediurl/internal/handler"
	"github.com/hitoshi/fediurl/internal/instance"
	"github.com/hitoshi/fediurl/internal/logger"
	"github.com/hitoshi/fediurl/internal/mastodon"
	"github.com/hitoshi/fediurl/internal/metrics"
	"github.com/hitoshi/fediurl/internal/middleware"
	"github.com/hitoshi/fediurl/internal/repository"
	"github.com/hitoshi/fediurl/internal/resolver"
	"github.com/hitoshi/fediurl/internal/security"
	"github.com/hitoshi/fediurl/internal/session"
	"github.com/hitoshi/fediurl/internal/view"
)

const (
	dbPingTimeout      = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
	healthcheckTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// server はrunServeが組み立てるHTTPハンドラー群。
type server struct {
	api         http.Handler
	metrics     http.Handler
	rateLimiter *middleware.RateLimiter
}

// newServer は全依存関係をワイヤリングする。dbへの接続はここでは行わない。
func newServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promRegistry)

	// 2. リポジトリ
	instanceRepo := repository.NewPostgresInstanceRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)

	// 3. リモートインスタンスクライアント（SSRF対策済み）
	guard := security.NewGuard(cfg.HTTPAllowPrivate)
	client := mastodon.NewClient(mastodon.Config{
		HTTPClient: guard.NewClient(cfg.HTTPClientTimeout),
		Logger:     log,
		Revision:   cfg.Revision,
		Metrics:    collector,
	})

	// 4. ドメインサービス
	store, err := session.NewStore([]byte(cfg.SessionSecret), time.Duration(cfg.SessionMaxAge)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	instances := instance.NewRegistry(instanceRepo, client, log, collector)
	authService := auth.NewService(instances, client, userRepo, store, log, collector)
	rewriter := resolver.New(instances, client, log, collector)

	renderer, err := view.New(cfg.Revision)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		LoginRate:       middleware.PerMinute(cfg.RateLimitLogin),
		LoginBurst:      cfg.RateLimitLogin,
		RewriteRate:     middleware.PerMinute(cfg.RateLimitRewrite),
		RewriteBurst:    cfg.RateLimitRewrite,
		CleanupInterval: middleware.DefaultRateLimiterConfig().CleanupInterval,
	})

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CookieSecure:      cfg.CookieSecure,
		Renderer:          renderer,
		Instances:         instances,
		AuthService:       authService,
		Cookies:           store,
		Domains:           guard,
		AuthConfig:        handler.AuthHandlerConfig{AllowedHosts: cfg.AllowedHosts},
		Rewriter:          rewriter,
		HealthChecker:     db,
	})

	return &server{
		api:         router,
		metrics:     metrics.SetupMetricsRoute(promRegistry),
		rateLimiter: rateLimiter,
	}, nil
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、APIサーバーとメトリクスサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("revision", cfg.Revision),
	)

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return err
	}
	slog.Info("database connection established")

	// 2. ワイヤリング
	srv, err := newServer(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	// 3. HTTPサーバーの起動
	servers := []*http.Server{{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.api,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           srv.metrics,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	return serveAll(ctx, servers...)
}

// serveAll はサーバー群を起動し、ctxのキャンセルまたはいずれかの起動失敗で全体を停止する。
func serveAll(ctx context.Context, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("server starting", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shut down %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("servers stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", logger.MaskDatabaseURL(cfg.DatabaseURL)),
	)

	applied, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(applied)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)

	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
