package diagnostics

import (
	"log/slog"
	"strconv"
	"strings"

	"crawldiag/internal/pkg/metrics"
)

// ClassifierOptions 分类器依赖。零值字段使用默认实现。
type ClassifierOptions struct {
	Resources *ResourceClassifier
	Backoff   *BackoffCalculator
	Debouncer Debouncer // nil 时不去重（ShouldLog 恒为 true）
	Cooldowns CooldownPolicy
	Logger    *slog.Logger
}

// Classifier 核心决策引擎。
//
// Classify 是全函数：内部任何故障只会让对应信号视为缺失，
// 整体 panic 被恢复后降级为低置信度兜底结果，永远不会向调用方抛出。
type Classifier struct {
	resources *ResourceClassifier
	backoff   *BackoffCalculator
	debouncer Debouncer
	cooldowns CooldownPolicy
	logger    *slog.Logger
	rules     []rule
}

// NewClassifier 创建分类器
func NewClassifier(opts ClassifierOptions) *Classifier {
	c := &Classifier{
		resources: opts.Resources,
		backoff:   opts.Backoff,
		debouncer: opts.Debouncer,
		cooldowns: opts.Cooldowns,
		logger:    opts.Logger,
	}
	if c.resources == nil {
		c.resources = NewResourceClassifier()
	}
	if c.backoff == nil {
		c.backoff = NewBackoffCalculator(DefaultBackoffBase, DefaultBackoffMax, nil)
	}
	if c.cooldowns.Default <= 0 && len(c.cooldowns.PerAction) == 0 {
		c.cooldowns = DefaultCooldownPolicy()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	c.rules = c.defaultRules()
	return c
}

// Classify 对信号集进行分类
func (c *Classifier) Classify(b SignalBundle) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ClassifierPanicsTotal.Inc()
			c.logger.Error("classifier panic recovered",
				slog.String("request_url", b.RequestURL),
				slog.Any("panic", r))
			res = fallbackResult()
		}
	}()

	ev := c.evaluate(b)
	for _, r := range c.rules {
		if !guard(func() bool { return r.match(ev) }) {
			continue
		}
		res = r.build(ev)
		res.Rule = r.name
		break
	}
	res.Signals = ev.signals

	requestID := ""
	if b.RequestID != nil {
		requestID = *b.RequestID
	}
	if res.Rule != RuleFallback {
		res.ShouldLog = c.shouldLog(requestID, res.SuggestedAction)
	}

	c.observe(res, requestID, b.RequestURL)
	return res
}

// ClassifyExtraction 页面加载成功但字段抽取失败
func (c *Classifier) ClassifyExtraction(requestID string, err error) Result {
	return c.classifyStage(TypeExtractionError, RuleExtraction, requestID, err)
}

// ClassifyValidation 抽取结果未通过校验
func (c *Classifier) ClassifyValidation(requestID string, err error) Result {
	return c.classifyStage(TypeValidationError, RuleValidation, requestID, err)
}

func (c *Classifier) classifyStage(t FailureType, ruleName, requestID string, err error) Result {
	res := Result{
		Type:            t,
		Confidence:      ConfidenceMedium,
		SuggestedAction: ActionEnableDebugMode,
		Rule:            ruleName,
	}
	res.ShouldLog = c.shouldLog(requestID, res.SuggestedAction)
	if err != nil && res.ShouldLog {
		c.logger.Info("post-load stage failed",
			slog.String("request_id", requestID),
			slog.String("type", string(t)),
			slog.String("error", err.Error()))
	}
	metrics.ClassificationsTotal.WithLabelValues(string(res.Type), string(res.Confidence), res.Rule).Inc()
	return res
}

// evaluate 派生布尔信号；每个信号独立保护，单个信号出错只会视为 false
func (c *Classifier) evaluate(b SignalBundle) *evaluation {
	ev := &evaluation{bundle: b}

	if b.StatusCode != nil {
		ev.statusCode = *b.StatusCode
	}

	ev.signals.HasChallenge = guard(func() bool {
		if b.ResponseBody == nil {
			return false
		}
		category, ok := MatchChallenge(*b.ResponseBody)
		ev.signals.ChallengeCategory = category
		return ok
	})

	ev.signals.IsRateLimited = ev.statusCode == 429
	ev.signals.IsBlocked = ev.statusCode == 403 || ev.statusCode == 451
	if label, ok := BlockingStatusLabel(ev.statusCode); ok {
		ev.signals.BlockingStatus = strconv.Itoa(ev.statusCode) + "_" + label
	}

	ev.signals.HasNetworkFailures = guard(func() bool {
		critical, filtered := c.resources.FilterCritical(b.NetworkErrors)
		total := 0
		for category, n := range filtered {
			metrics.NonCriticalFilteredTotal.WithLabelValues(category).Add(float64(n))
			total += n
		}
		ev.signals.CriticalNetworkErrors = len(critical)
		ev.signals.FilteredNetworkErrors = total
		return len(critical) > 0
	})

	ev.signals.HasTimeout = guard(func() bool {
		if b.NavigationTimedOut {
			return true
		}
		return b.ErrorMessage != nil && strings.Contains(strings.ToLower(*b.ErrorMessage), "timeout")
	})

	return ev
}

// shouldLog 无请求 ID 时无法去重，默认记录
func (c *Classifier) shouldLog(requestID string, action Action) bool {
	if requestID == "" || c.debouncer == nil {
		return true
	}
	return guard(func() bool {
		return c.debouncer.ShouldEmit(requestID, string(action), c.cooldowns.For(action))
	}, true)
}

func (c *Classifier) observe(res Result, requestID, url string) {
	metrics.ClassificationsTotal.WithLabelValues(string(res.Type), string(res.Confidence), res.Rule).Inc()

	attrs := []any{
		slog.String("request_id", requestID),
		slog.String("url", url),
		slog.String("type", string(res.Type)),
		slog.String("confidence", string(res.Confidence)),
		slog.String("suggested_action", string(res.SuggestedAction)),
		slog.String("rule", res.Rule),
	}

	switch {
	case !res.ShouldLog:
		if res.Rule != RuleFallback {
			metrics.SuggestionsSuppressedTotal.WithLabelValues(string(res.SuggestedAction)).Inc()
		}
		c.logger.Debug("classification suppressed", attrs...)
	case res.IsRootCause:
		c.logger.Warn("page load failure classified", attrs...)
	default:
		c.logger.Info("page load failure classified", attrs...)
	}
}

// guard 执行 fn 并把 panic 转为 fallback（默认 false）
func guard(fn func() bool, fallback ...bool) (out bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ClassifierPanicsTotal.Inc()
			out = len(fallback) > 0 && fallback[0]
		}
	}()
	return fn()
}
