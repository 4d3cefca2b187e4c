package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"crawldiag/internal/diagnostics"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// 去重后端
const (
	DebounceBackendMemory = "memory"
	DebounceBackendRedis  = "redis"
)

// Config 保存应用程序配置
type Config struct {
	App        AppConfig        `json:"app"`
	Classifier ClassifierConfig `json:"classifier"`
	Sanitizer  SanitizerConfig  `json:"sanitizer"`
	Redis      RedisConfig      `json:"redis"`
	Browser    BrowserConfig    `json:"browser"`
}

// AppConfig 应用程序基础配置
type AppConfig struct {
	Env         string `json:"env"`          // 运行环境: local / prod
	LogLevel    string `json:"log_level"`    // 日志级别: debug / info / warn / error
	HTTPAddr    string `json:"http_addr"`    // API 服务监听地址
	MetricsAddr string `json:"metrics_addr"` // Prometheus 指标监听地址

	// 每个客户端的分类请求限流（需要 Redis；0 表示不限流）
	IngestRateLimit int `json:"ingest_rate_limit"` // 每秒令牌数
	IngestBurst     int `json:"ingest_burst"`      // 桶容量
}

// ClassifierConfig 分类器与去重配置
type ClassifierConfig struct {
	DebounceCooldown        time.Duration `json:"debounce_cooldown"`         // 默认冷却时间 (默认 5s)
	NetworkDebounceCooldown time.Duration `json:"network_debounce_cooldown"` // retry_with_delay 冷却时间 (默认 10s)
	DebounceTTL             time.Duration `json:"debounce_ttl"`              // 进程内条目保留时间 (默认 1m)
	JanitorInterval         time.Duration `json:"janitor_interval"`          // 清理间隔 (默认 30s)
	DebounceBackend         string        `json:"debounce_backend"`          // memory / redis
	BackoffBase             time.Duration `json:"backoff_base"`              // 退避基准 (默认 5s)
	BackoffMax              time.Duration `json:"backoff_max"`               // 退避上限 (默认 5m)
}

// SanitizerConfig 载荷脱敏配置
type SanitizerConfig struct {
	MaxHTMLLength  int      `json:"max_html_length"`   // HTML 最大字符数 (默认 1000)
	MaxHAREntries  int      `json:"max_har_entries"`   // 保留的 HAR 条目数 (默认 10)
	MaxHARBodySize int      `json:"max_har_body_size"` // HAR 响应体上限 (默认 10000)
	RedactHeaders  []string `json:"redact_headers"`    // 需要脱敏的头部
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `json:"addr"`           // Redis 地址 (host:port)，空表示不启用
	Password     string        `json:"password"`       // Redis 密码
	PoolSize     int           `json:"pool_size"`      // 连接池大小 (默认 10)
	MinIdleConns int           `json:"min_idle_conns"` // 最小空闲连接数 (默认 2)
	DialTimeout  time.Duration `json:"dial_timeout"`   // 连接超时 (默认 5s)
	ReadTimeout  time.Duration `json:"read_timeout"`   // 读取超时 (默认 3s)
	WriteTimeout time.Duration `json:"write_timeout"`  // 写入超时 (默认 3s)
}

// BrowserConfig 探测浏览器配置
type BrowserConfig struct {
	BinPath      string        `json:"bin_path"`      // 浏览器可执行文件路径
	ProxyURL     string        `json:"proxy_url"`     // 代理服务器 URL
	Headless     bool          `json:"headless"`      // 是否使用无头模式
	PageTimeout  time.Duration `json:"page_timeout"`  // 页面导航超时
	ProbeTimeout time.Duration `json:"probe_timeout"` // 单个早期探测读取超时
}

// Load 从 JSON 文件加载配置
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":8080",
			MetricsAddr: ":2112",
		},
		Classifier: ClassifierConfig{
			DebounceCooldown:        diagnostics.DefaultDebounceCooldown,
			NetworkDebounceCooldown: diagnostics.DefaultNetworkDebounceCooldown,
			DebounceTTL:             diagnostics.DefaultDebounceTTL,
			JanitorInterval:         30 * time.Second,
			DebounceBackend:         DebounceBackendMemory,
			BackoffBase:             diagnostics.DefaultBackoffBase,
			BackoffMax:              diagnostics.DefaultBackoffMax,
		},
		Sanitizer: SanitizerConfig{
			MaxHTMLLength:  diagnostics.DefaultMaxHTMLLength,
			MaxHAREntries:  diagnostics.DefaultMaxHAREntries,
			MaxHARBodySize: diagnostics.DefaultMaxHARBodySize,
			RedactHeaders:  append([]string(nil), diagnostics.DefaultRedactHeaders...),
		},
		Redis: RedisConfig{
			Addr:         "",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:     true,
			PageTimeout:  30 * time.Second,
			ProbeTimeout: 2 * time.Second,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	// App
	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.IngestRateLimit > 0 && cfg.App.IngestBurst <= 0 {
		cfg.App.IngestBurst = cfg.App.IngestRateLimit
	}

	// Classifier
	if cfg.Classifier.DebounceCooldown == 0 {
		cfg.Classifier.DebounceCooldown = defaults.Classifier.DebounceCooldown
	}
	if cfg.Classifier.NetworkDebounceCooldown == 0 {
		cfg.Classifier.NetworkDebounceCooldown = defaults.Classifier.NetworkDebounceCooldown
	}
	if cfg.Classifier.DebounceTTL == 0 {
		cfg.Classifier.DebounceTTL = defaults.Classifier.DebounceTTL
	}
	if cfg.Classifier.JanitorInterval == 0 {
		cfg.Classifier.JanitorInterval = defaults.Classifier.JanitorInterval
	}
	if cfg.Classifier.DebounceBackend == "" {
		cfg.Classifier.DebounceBackend = defaults.Classifier.DebounceBackend
	}
	if cfg.Classifier.BackoffBase == 0 {
		cfg.Classifier.BackoffBase = defaults.Classifier.BackoffBase
	}
	if cfg.Classifier.BackoffMax == 0 {
		cfg.Classifier.BackoffMax = defaults.Classifier.BackoffMax
	}

	// Sanitizer
	if cfg.Sanitizer.MaxHTMLLength == 0 {
		cfg.Sanitizer.MaxHTMLLength = defaults.Sanitizer.MaxHTMLLength
	}
	if cfg.Sanitizer.MaxHAREntries == 0 {
		cfg.Sanitizer.MaxHAREntries = defaults.Sanitizer.MaxHAREntries
	}
	if cfg.Sanitizer.MaxHARBodySize == 0 {
		cfg.Sanitizer.MaxHARBodySize = defaults.Sanitizer.MaxHARBodySize
	}
	if len(cfg.Sanitizer.RedactHeaders) == 0 {
		cfg.Sanitizer.RedactHeaders = defaults.Sanitizer.RedactHeaders
	}

	// Redis (Addr 为空表示不启用)
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = defaults.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = defaults.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = defaults.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = defaults.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = defaults.Redis.WriteTimeout
	}

	// Browser (Headless 零值 false 有意义，不覆盖)
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Browser.ProbeTimeout == 0 {
		cfg.Browser.ProbeTimeout = defaults.Browser.ProbeTimeout
	}
}

// envLayer 用 viper 读取环境变量，key 以点分隔，如 classifier.debounce_cooldown 对应 CLASSIFIER_DEBOUNCE_COOLDOWN。
// 空值与无法解析的值被忽略。
type envLayer struct {
	v *viper.Viper
}

func newEnvLayer() *envLayer {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容常见的非前缀变量，排在前面的优先
	_ = v.BindEnv("browser.bin_path", "CHROME_BIN", "BROWSER_BIN_PATH")
	_ = v.BindEnv("browser.proxy_url", "HTTP_PROXY", "BROWSER_PROXY_URL")
	return &envLayer{v: v}
}

func (e *envLayer) str(key string, dst *string) {
	if s := e.v.GetString(key); s != "" {
		*dst = s
	}
}

func (e *envLayer) duration(key string, dst *time.Duration) {
	if !e.v.IsSet(key) {
		return
	}
	if _, err := cast.ToDurationE(e.v.Get(key)); err == nil {
		*dst = e.v.GetDuration(key)
	}
}

func (e *envLayer) integer(key string, dst *int) {
	if !e.v.IsSet(key) {
		return
	}
	if _, err := cast.ToIntE(e.v.Get(key)); err == nil {
		*dst = e.v.GetInt(key)
	}
}

func (e *envLayer) boolean(key string, dst *bool) {
	if !e.v.IsSet(key) {
		return
	}
	if _, err := cast.ToBoolE(e.v.Get(key)); err == nil {
		*dst = e.v.GetBool(key)
	}
}

func applyEnvOverrides(cfg *Config) {
	env := newEnvLayer()

	// App
	env.str("app.env", &cfg.App.Env)
	env.str("app.log_level", &cfg.App.LogLevel)
	env.str("app.http_addr", &cfg.App.HTTPAddr)
	env.str("app.metrics_addr", &cfg.App.MetricsAddr)
	env.integer("app.ingest_rate_limit", &cfg.App.IngestRateLimit)
	env.integer("app.ingest_burst", &cfg.App.IngestBurst)

	// Classifier
	env.duration("classifier.debounce_cooldown", &cfg.Classifier.DebounceCooldown)
	env.duration("classifier.network_debounce_cooldown", &cfg.Classifier.NetworkDebounceCooldown)
	env.duration("classifier.debounce_ttl", &cfg.Classifier.DebounceTTL)
	env.duration("classifier.janitor_interval", &cfg.Classifier.JanitorInterval)
	env.duration("classifier.backoff_base", &cfg.Classifier.BackoffBase)
	env.duration("classifier.backoff_max", &cfg.Classifier.BackoffMax)
	if v := env.v.GetString("classifier.debounce_backend"); v != "" {
		cfg.Classifier.DebounceBackend = strings.ToLower(v)
	}

	// Sanitizer
	env.integer("sanitizer.max_html_length", &cfg.Sanitizer.MaxHTMLLength)
	env.integer("sanitizer.max_har_entries", &cfg.Sanitizer.MaxHAREntries)
	env.integer("sanitizer.max_har_body_size", &cfg.Sanitizer.MaxHARBodySize)
	if v := env.v.GetString("sanitizer.redact_headers"); v != "" {
		var headers []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				headers = append(headers, strings.ToLower(h))
			}
		}
		if len(headers) > 0 {
			cfg.Sanitizer.RedactHeaders = headers
		}
	}

	// Redis
	env.str("redis.addr", &cfg.Redis.Addr)
	env.str("redis.password", &cfg.Redis.Password)
	env.integer("redis.pool_size", &cfg.Redis.PoolSize)
	env.integer("redis.min_idle_conns", &cfg.Redis.MinIdleConns)
	env.duration("redis.dial_timeout", &cfg.Redis.DialTimeout)
	env.duration("redis.read_timeout", &cfg.Redis.ReadTimeout)
	env.duration("redis.write_timeout", &cfg.Redis.WriteTimeout)

	// Browser
	env.str("browser.bin_path", &cfg.Browser.BinPath)
	env.str("browser.proxy_url", &cfg.Browser.ProxyURL)
	env.boolean("browser.headless", &cfg.Browser.Headless)
	env.duration("browser.page_timeout", &cfg.Browser.PageTimeout)
	env.duration("browser.probe_timeout", &cfg.Browser.ProbeTimeout)
}

// Validate 校验互相依赖的配置项
func (c *Config) Validate() error {
	switch c.Classifier.DebounceBackend {
	case DebounceBackendMemory:
	case DebounceBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("debounce_backend %q requires redis.addr", DebounceBackendRedis)
		}
	default:
		return fmt.Errorf("unknown debounce_backend %q", c.Classifier.DebounceBackend)
	}
	if c.Classifier.BackoffMax < c.Classifier.BackoffBase {
		return fmt.Errorf("backoff_max %s is below backoff_base %s", c.Classifier.BackoffMax, c.Classifier.BackoffBase)
	}
	if c.App.IngestRateLimit > 0 && c.Redis.Addr == "" {
		return fmt.Errorf("ingest_rate_limit requires redis.addr")
	}
	return nil
}

// CooldownPolicy 转换为分类器的冷却策略
func (c *ClassifierConfig) CooldownPolicy() diagnostics.CooldownPolicy {
	return diagnostics.CooldownPolicy{
		Default: c.DebounceCooldown,
		PerAction: map[diagnostics.Action]time.Duration{
			diagnostics.ActionRetryWithDelay: c.NetworkDebounceCooldown,
		},
	}
}

// SanitizeOptions 转换为脱敏参数
func (c *SanitizerConfig) SanitizeOptions() diagnostics.SanitizeOptions {
	return diagnostics.SanitizeOptions{
		MaxHTMLLength:  c.MaxHTMLLength,
		MaxHAREntries:  c.MaxHAREntries,
		MaxHARBodySize: c.MaxHARBodySize,
		RedactHeaders:  append([]string(nil), c.RedactHeaders...),
	}
}
