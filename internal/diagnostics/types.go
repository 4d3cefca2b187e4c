// Package diagnostics 将单次页面加载的原始信号归一化为失败分类、置信度与补救建议。
package diagnostics

// FailureType 失败分类
type FailureType string

const (
	TypeBlocked         FailureType = "BLOCKED"
	TypeRateLimited     FailureType = "RATE_LIMITED"
	TypeSlowLoad        FailureType = "SLOW_LOAD"
	TypeNetworkError    FailureType = "NETWORK_ERROR"
	TypeChallengePage   FailureType = "CHALLENGE_PAGE"
	TypeUnknownTimeout  FailureType = "UNKNOWN_TIMEOUT"
	TypeValidationError FailureType = "VALIDATION_ERROR"
	TypeExtractionError FailureType = "EXTRACTION_ERROR"
)

// Confidence 置信度
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Action 建议的补救动作（仅建议，不执行）
type Action string

const (
	ActionUseResidentialProxy Action = "use_residential_proxy"
	ActionExponentialBackoff  Action = "exponential_backoff"
	ActionRotateProxy         Action = "rotate_proxy"
	ActionRetryWithDelay      Action = "retry_with_delay"
	ActionIncreaseTimeout     Action = "increase_timeout"
	ActionEnableDebugMode     Action = "enable_debug_mode"
)

// ConsoleError 浏览器控制台错误
type ConsoleError struct {
	Message   string `json:"message"`
	SourceURL string `json:"source_url,omitempty"`
}

// NetworkError 子资源请求失败
type NetworkError struct {
	URL           string `json:"url"`
	FailureReason string `json:"failure_reason,omitempty"`
	Method        string `json:"method,omitempty"`
	ContentType   string `json:"content_type,omitempty"`  // 资源 MIME 类型（如已知）
	ResourceType  string `json:"resource_type,omitempty"` // CDP 资源类型: Image / Font / Document ...
}

// PageError 页面未捕获异常
type PageError struct {
	Message      string `json:"message"`
	StackSummary string `json:"stack_summary,omitempty"`
}

// SignalBundle 单次分类调用的输入信号。
//
// 指针字段用 nil 表示"未观测到"。Classify 按值接收，不会修改调用方的数据。
type SignalBundle struct {
	StatusCode         *int           `json:"status_code"`
	ResponseBody       *string        `json:"response_body"`
	ConsoleErrors      []ConsoleError `json:"console_errors,omitempty"`
	NetworkErrors      []NetworkError `json:"network_errors,omitempty"`
	PageErrors         []PageError    `json:"page_errors,omitempty"`
	NavigationTimedOut bool           `json:"navigation_timed_out"`
	ErrorMessage       *string        `json:"error_message"`
	RequestURL         string         `json:"request_url"`
	ContentType        string         `json:"content_type"`
	RequestID          *string        `json:"request_id"`
}

// BackoffHint 限流场景下的重试延迟建议
type BackoffHint struct {
	BaseDelayMs      int64   `json:"base_delay_ms"`
	MaxDelayMs       int64   `json:"max_delay_ms"`
	JitterFactor     float64 `json:"jitter_factor"`
	SuggestedDelayMs int64   `json:"suggested_delay_ms"`
}

// Signals 分类决策所用的派生信号（用于审计与测试）
type Signals struct {
	HasChallenge          bool   `json:"has_challenge"`
	ChallengeCategory     string `json:"challenge_category,omitempty"`
	IsRateLimited         bool   `json:"is_rate_limited"`
	IsBlocked             bool   `json:"is_blocked"`
	BlockingStatus        string `json:"blocking_status,omitempty"`
	HasNetworkFailures    bool   `json:"has_network_failures"`
	CriticalNetworkErrors int    `json:"critical_network_errors"`
	FilteredNetworkErrors int    `json:"filtered_network_errors"`
	HasTimeout            bool   `json:"has_timeout"`
}

// Result 分类结果，始终非空
type Result struct {
	Type            FailureType  `json:"type"`
	Confidence      Confidence   `json:"confidence"`
	SuggestedAction Action       `json:"suggested_action"`
	BackoffHint     *BackoffHint `json:"backoff_hint,omitempty"`
	IsRootCause     bool         `json:"is_root_cause"`
	ShouldLog       bool         `json:"should_log"`
	Signals         Signals      `json:"signals"`
	Rule            string       `json:"rule"` // 命中的规则名
}

// IntPtr 返回 v 的指针，便于构造 SignalBundle。
func IntPtr(v int) *int { return &v }

// StringPtr 返回 s 的指针。
func StringPtr(s string) *string { return &s }
