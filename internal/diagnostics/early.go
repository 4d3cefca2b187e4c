package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crawldiag/internal/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// 早期检测结果类型
const (
	EarlyTypeTitle           = "title"
	EarlyTypeContent         = "content"
	EarlyTypeURL             = "url"
	EarlyTypeNone            = "none"
	EarlyTypeDetectionFailed = "detection_failed"
)

var (
	earlyTitlePhrases   = []string{"checking your browser", "security check", "cloudflare"}
	earlyContentPhrases = []string{"checking your browser", "security check", "cloudflare", "verify you are human"}
	earlyURLTokens      = []string{"challenge", "captcha", "security"}
)

// PageProbe 已完成导航的页面的只读视图。
// 实现需自行处理超时；任何错误都被视为"无信号"。
type PageProbe interface {
	Title(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	// HasChallengeElement 是否存在 id/class 含 challenge 或 captcha 的元素
	HasChallengeElement(ctx context.Context) (bool, error)
	URL(ctx context.Context) (string, error)
}

// EarlyDetection 早期挑战检测结果
type EarlyDetection struct {
	HasChallenge bool       `json:"has_challenge"`
	Confidence   Confidence `json:"confidence"`
	Type         string     `json:"type"`
}

// EarlyChallengeDetector 导航后立即运行的轻量探测，用于在资源加载完成前快速失败。
// 与 Classifier 相互独立。
type EarlyChallengeDetector struct {
	logger *slog.Logger
}

// NewEarlyChallengeDetector 创建早期检测器
func NewEarlyChallengeDetector(logger *slog.Logger) *EarlyChallengeDetector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EarlyChallengeDetector{logger: logger}
}

type probeOutcome struct {
	hit    bool
	failed bool
}

var errPageUnreadable = errors.New("page unreadable")

// Detect 并发运行标题、内容、URL 三个探测并等待全部完成。
// 单个探测失败不会中断其他探测；全部失败时保守地认为没有挑战。
func (d *EarlyChallengeDetector) Detect(ctx context.Context, probe PageProbe) EarlyDetection {
	start := time.Now()
	if probe == nil {
		return d.finish(start, EarlyDetection{Confidence: ConfidenceLow, Type: EarlyTypeDetectionFailed})
	}

	probes := []struct {
		name string
		fn   func(ctx context.Context) (bool, error)
	}{
		{EarlyTypeTitle, func(ctx context.Context) (bool, error) { return probeTitle(ctx, probe) }},
		{EarlyTypeContent, func(ctx context.Context) (bool, error) { return probeContent(ctx, probe) }},
		{EarlyTypeURL, func(ctx context.Context) (bool, error) { return probeURL(ctx, probe) }},
	}

	outcomes := make([]probeOutcome, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			outcomes[i] = runProbe(ctx, p.fn)
			if outcomes[i].failed {
				d.logger.Debug("challenge probe failed", slog.String("probe", p.name))
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, o := range outcomes {
		if o.hit {
			return d.finish(start, EarlyDetection{HasChallenge: true, Confidence: ConfidenceHigh, Type: probes[i].name})
		}
		if o.failed {
			failed++
		}
	}
	if failed == len(outcomes) {
		return d.finish(start, EarlyDetection{Confidence: ConfidenceLow, Type: EarlyTypeDetectionFailed})
	}
	return d.finish(start, EarlyDetection{Confidence: ConfidenceLow, Type: EarlyTypeNone})
}

func (d *EarlyChallengeDetector) finish(start time.Time, res EarlyDetection) EarlyDetection {
	metrics.EarlyDetectionsTotal.WithLabelValues(res.Type).Inc()
	metrics.EarlyDetectionDuration.Observe(time.Since(start).Seconds())
	if res.HasChallenge {
		d.logger.Warn("early challenge detected", slog.String("probe", res.Type))
	}
	return res
}

// runProbe 把错误与 panic 都转为 failed
func runProbe(ctx context.Context, fn func(ctx context.Context) (bool, error)) (out probeOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = probeOutcome{failed: true}
		}
	}()
	hit, err := fn(ctx)
	if err != nil {
		return probeOutcome{failed: true}
	}
	return probeOutcome{hit: hit}
}

func probeTitle(ctx context.Context, probe PageProbe) (bool, error) {
	title, err := probe.Title(ctx)
	if err != nil {
		return false, err
	}
	return containsAny(strings.ToLower(title), earlyTitlePhrases), nil
}

// probeContent 正文文本与挑战元素任一可读即视为探测成功
func probeContent(ctx context.Context, probe PageProbe) (bool, error) {
	text, textErr := probe.BodyText(ctx)
	if textErr == nil && containsAny(strings.ToLower(text), earlyContentPhrases) {
		return true, nil
	}
	found, elemErr := probe.HasChallengeElement(ctx)
	if elemErr == nil && found {
		return true, nil
	}
	if textErr != nil && elemErr != nil {
		return false, fmt.Errorf("%w: body: %v; element: %v", errPageUnreadable, textErr, elemErr)
	}
	return false, nil
}

func probeURL(ctx context.Context, probe PageProbe) (bool, error) {
	u, err := probe.URL(ctx)
	if err != nil {
		return false, err
	}
	return containsAny(strings.ToLower(u), earlyURLTokens), nil
}
