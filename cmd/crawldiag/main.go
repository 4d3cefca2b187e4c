// cmd/crawldiag/main.go
// 页面加载失败诊断服务
// 默认启动 HTTP API；-bundle 对本地信号文件做一次分类；-probe 用浏览器探测单个 URL；
// -recover-orphans 为维护操作，把消费端未 Ack 的记录放回队列
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crawldiag/internal/api"
	"crawldiag/internal/browser"
	"crawldiag/internal/config"
	"crawldiag/internal/diagnostics"
	"crawldiag/internal/pkg/logger"
	"crawldiag/internal/pkg/metrics"
	"crawldiag/internal/pkg/ratelimit"
	"crawldiag/internal/pkg/recordqueue"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 命令行参数
	configFile := flag.String("config", "", "config file path")
	bundleFile := flag.String("bundle", "", "classify a signal bundle JSON file (\"-\" for stdin) and exit")
	probeURL := flag.String("probe", "", "probe a single URL with the browser and exit")
	recoverOrphans := flag.Bool("recover-orphans", false, "requeue unacknowledged records and exit (only while no consumer is running)")
	flag.Parse()

	// 加载配置
	cfg, err := loadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 初始化日志
	level := cfg.App.LogLevel
	if os.Getenv("DEBUG") == "true" {
		level = "debug"
	}
	slogger := logger.NewWithIdentity(logger.Config{Level: level, Output: os.Stderr, Component: "crawldiag"})
	slog.SetDefault(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *bundleFile != "":
		err = runBundle(cfg, slogger, *bundleFile, os.Stdout)
	case *probeURL != "":
		err = runProbe(ctx, cfg, slogger, *probeURL, os.Stdout)
	case *recoverOrphans:
		err = runRecover(ctx, cfg, slogger)
	default:
		err = runServer(ctx, cfg, slogger)
	}
	if err != nil {
		slogger.Error("crawldiag exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// runBundle 离线分类：读取 SignalBundle，输出 Result
func runBundle(cfg *config.Config, slogger *slog.Logger, path string, out io.Writer) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open bundle: %w", err)
		}
		defer f.Close()
		r = f
	}

	var bundle diagnostics.SignalBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}

	classifier := newClassifier(cfg, slogger, nil)
	return writeJSON(out, classifier.Classify(bundle))
}

// runProbe 启动浏览器探测单个 URL，输出脱敏后的诊断记录
func runProbe(ctx context.Context, cfg *config.Config, slogger *slog.Logger, url string, out io.Writer) error {
	bk, err := initBackends(ctx, cfg, slogger)
	if err != nil {
		return err
	}
	defer bk.Close()

	var sink browser.RecordSink
	if bk.queue != nil {
		sink = bk.queue
	}

	b, err := browser.Launch(ctx, cfg.Browser, slogger, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slogger.Warn("browser close error", slog.String("error", err.Error()))
		}
	}()

	prober := browser.NewProber(b, browser.ProberOptions{
		Classifier:   newClassifier(cfg, slogger, bk.debouncer),
		Detector:     diagnostics.NewEarlyChallengeDetector(slogger),
		Sanitizer:    diagnostics.NewSanitizer(cfg.Sanitizer.SanitizeOptions()),
		Sink:         sink,
		PageTimeout:  cfg.Browser.PageTimeout,
		ProbeTimeout: cfg.Browser.ProbeTimeout,
		Logger:       slogger,
	})

	rec, err := prober.Probe(ctx, url)
	if err != nil {
		return err
	}
	return writeJSON(out, rec)
}

// runServer 启动 API 与 Metrics 服务，直到收到关闭信号
func runServer(ctx context.Context, cfg *config.Config, slogger *slog.Logger) error {
	slogger.Info("starting crawldiag service",
		slog.String("env", cfg.App.Env),
		slog.String("debounce_backend", cfg.Classifier.DebounceBackend))
	metrics.ServiceUptime.Set(float64(time.Now().Unix()))

	bk, err := initBackends(ctx, cfg, slogger)
	if err != nil {
		return err
	}
	defer bk.Close()

	deps := api.Deps{
		Classifier: newClassifier(cfg, slogger, bk.debouncer),
		Sanitizer:  diagnostics.NewSanitizer(cfg.Sanitizer.SanitizeOptions()),
		Resources:  diagnostics.NewResourceClassifier(),
		Backoff:    diagnostics.NewBackoffCalculator(cfg.Classifier.BackoffBase, cfg.Classifier.BackoffMax, nil),
	}
	if bk.queue != nil {
		deps.Queue = bk.queue
	}
	if stats, ok := bk.debouncer.(api.DebounceStats); ok {
		deps.Debounce = stats
	}
	if cfg.App.IngestRateLimit > 0 && bk.rdb != nil {
		deps.Limiter = ratelimit.NewLimiter(bk.rdb, ratelimit.Bucket{
			Rate:  cfg.App.IngestRateLimit,
			Burst: cfg.App.IngestBurst,
		})
		slogger.Info("ingest rate limit enabled",
			slog.Int("rate", cfg.App.IngestRateLimit),
			slog.Int("burst", cfg.App.IngestBurst))
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Addr = cfg.App.HTTPAddr
	apiCfg.Debug = cfg.App.LogLevel == "debug"
	server := api.NewServer(deps, slogger, apiCfg)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 启动 Metrics Server (Prometheus)
	metricsAddr := cfg.App.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = ":2112"
	}
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		slogger.Info("metrics server started", slog.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	slogger.Info("crawldiag started, waiting for shutdown signal...")

	select {
	case <-ctx.Done():
		slogger.Info("shutdown signal received, stopping...")
	case err := <-serverErr:
		slogger.Error("api server error", slog.String("error", err.Error()))
	}

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("api server shutdown error", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slogger.Error("metrics server shutdown error", slog.String("error", err.Error()))
	}

	slogger.Info("crawldiag stopped")
	return nil
}

// runRecover 回收消费端崩溃后遗留在 processing 队列中的记录。
// 本服务只生产记录，消费端运行时执行会导致重复投递。
func runRecover(ctx context.Context, cfg *config.Config, slogger *slog.Logger) error {
	if cfg.Redis.Addr == "" {
		return errors.New("recover-orphans requires redis.addr")
	}
	bk, err := initBackends(ctx, cfg, slogger)
	if err != nil {
		return err
	}
	defer bk.Close()

	n, err := bk.queue.RecoverOrphanedRecords(ctx)
	if err != nil {
		return fmt.Errorf("recover orphaned records: %w", err)
	}
	slogger.Info("recovered orphaned records", slog.Int("count", n))
	return nil
}

// backends 按配置初始化的外部依赖
type backends struct {
	rdb       *redis.Client
	debouncer diagnostics.Debouncer
	queue     *recordqueue.Client // 未配置 Redis 时为 nil
}

func (b *backends) Close() {
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
}

// initBackends 按配置选择去重后端；配置了 Redis 时同时启用诊断记录队列。
// 只连接，不改动队列内容。
func initBackends(ctx context.Context, cfg *config.Config, slogger *slog.Logger) (*backends, error) {
	b := &backends{}
	if cfg.Redis.Addr != "" {
		rdb, err := initRedis(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.rdb = rdb
		slogger.Info("Redis connected")

		q, err := recordqueue.NewClientWithRedis(rdb)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.queue = q
		slogger.Info("record queue initialized")
	}

	if cfg.Classifier.DebounceBackend == config.DebounceBackendRedis && b.rdb != nil {
		b.debouncer = diagnostics.NewRedisDebouncer(b.rdb, slogger)
		return b, nil
	}

	memory := diagnostics.NewMemoryDebouncer(cfg.Classifier.DebounceTTL, slogger)
	go memory.StartJanitor(ctx, cfg.Classifier.JanitorInterval)
	b.debouncer = memory
	return b, nil
}

func newClassifier(cfg *config.Config, slogger *slog.Logger, debouncer diagnostics.Debouncer) *diagnostics.Classifier {
	return diagnostics.NewClassifier(diagnostics.ClassifierOptions{
		Backoff:   diagnostics.NewBackoffCalculator(cfg.Classifier.BackoffBase, cfg.Classifier.BackoffMax, nil),
		Debouncer: debouncer,
		Cooldowns: cfg.Classifier.CooldownPolicy(),
		Logger:    slogger,
	})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadConfig 加载配置
func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	// 尝试默认路径
	for _, path := range []string{"configs/config.json", "config.json", "/etc/crawldiag/config.json"} {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	// 默认配置 + 环境变量
	return config.Load()
}

// initRedis 初始化 Redis 连接
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           0,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	slog.Info("Redis client configured",
		slog.String("addr", cfg.Addr),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Int("min_idle_conns", cfg.MinIdleConns),
		slog.Duration("dial_timeout", cfg.DialTimeout))

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
