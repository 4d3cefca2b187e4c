package diagnostics

// 规则名
const (
	RuleChallengePage        = "challenge_page"
	RuleRateLimited          = "rate_limited"
	RuleBlocked              = "blocked"
	RuleNetworkError         = "network_error"
	RuleSlowLoad             = "slow_load"
	RuleTimeoutWithChallenge = "timeout_with_challenge"
	RuleFallback             = "fallback"
	RuleExtraction           = "extraction"
	RuleValidation           = "validation"
)

// evaluation 单次分类的中间状态
type evaluation struct {
	bundle     SignalBundle
	statusCode int // 0 表示未知
	signals    Signals
}

// rule 有序规则：按顺序求值，首个命中即返回（优先级级联，不做加权）
type rule struct {
	name  string
	match func(ev *evaluation) bool
	build func(ev *evaluation) Result
}

// defaultRules 返回固定优先级的规则列表
func (c *Classifier) defaultRules() []rule {
	return []rule{
		{
			// 挑战页优先级最高：无论状态码与超时状态，根因都是反爬拦截
			name:  RuleChallengePage,
			match: func(ev *evaluation) bool { return ev.signals.HasChallenge },
			build: func(ev *evaluation) Result {
				return Result{
					Type:            TypeChallengePage,
					Confidence:      ConfidenceHigh,
					SuggestedAction: ActionUseResidentialProxy,
					IsRootCause:     true,
				}
			},
		},
		{
			name:  RuleRateLimited,
			match: func(ev *evaluation) bool { return ev.statusCode == 429 },
			build: func(ev *evaluation) Result {
				hint := c.backoff.Compute()
				return Result{
					Type:            TypeRateLimited,
					Confidence:      ConfidenceHigh,
					SuggestedAction: ActionExponentialBackoff,
					BackoffHint:     &hint,
					IsRootCause:     true,
				}
			},
		},
		{
			name:  RuleBlocked,
			match: func(ev *evaluation) bool { return ev.statusCode == 403 || ev.statusCode == 451 },
			build: func(ev *evaluation) Result {
				return Result{
					Type:            TypeBlocked,
					Confidence:      ConfidenceHigh,
					SuggestedAction: ActionRotateProxy,
					IsRootCause:     true,
				}
			},
		},
		{
			// 网络错误常与其他失败同时出现，视为症状而非根因
			name:  RuleNetworkError,
			match: func(ev *evaluation) bool { return ev.signals.HasNetworkFailures },
			build: func(ev *evaluation) Result {
				return Result{
					Type:            TypeNetworkError,
					Confidence:      ConfidenceMedium,
					SuggestedAction: ActionRetryWithDelay,
				}
			},
		},
		{
			name:  RuleSlowLoad,
			match: func(ev *evaluation) bool { return ev.signals.HasTimeout && !ev.signals.HasChallenge },
			build: func(ev *evaluation) Result {
				return Result{
					Type:            TypeSlowLoad,
					Confidence:      ConfidenceMedium,
					SuggestedAction: ActionIncreaseTimeout,
				}
			},
		},
		{
			// 被 challenge_page 遮蔽，当前顺序下不可达；保留以固定文档中的优先级位置
			name:  RuleTimeoutWithChallenge,
			match: func(ev *evaluation) bool { return ev.signals.HasTimeout && ev.signals.HasChallenge },
			build: func(ev *evaluation) Result {
				return Result{
					Type:            TypeUnknownTimeout,
					Confidence:      ConfidenceMedium,
					SuggestedAction: ActionEnableDebugMode,
				}
			},
		},
		{
			name:  RuleFallback,
			match: func(ev *evaluation) bool { return true },
			build: func(ev *evaluation) Result { return fallbackResult() },
		},
	}
}

// fallbackResult 无信息兜底：低置信度，默认不记录日志
func fallbackResult() Result {
	return Result{
		Type:            TypeUnknownTimeout,
		Confidence:      ConfidenceLow,
		SuggestedAction: ActionEnableDebugMode,
		IsRootCause:     false,
		ShouldLog:       false,
		Rule:            RuleFallback,
	}
}
