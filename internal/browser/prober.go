package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crawldiag/internal/diagnostics"
	"crawldiag/internal/pkg/metrics"

	"github.com/go-rod/rod"
)

// 时间线阶段
const (
	StagePageCreated    = "page_created"
	StageNavigated      = "navigated"
	StageEarlyDetection = "early_detection"
	StageLoaded         = "loaded"
	StageClassified     = "classified"
)

const htmlReadTimeout = 5 * time.Second

// RecordSink 诊断记录的下游（例如 recordqueue）
type RecordSink interface {
	PushRecord(ctx context.Context, rec *diagnostics.Record) error
}

// ProberOptions Prober 依赖
type ProberOptions struct {
	Classifier   *diagnostics.Classifier
	Detector     *diagnostics.EarlyChallengeDetector
	Sanitizer    *diagnostics.Sanitizer
	Sink         RecordSink
	PageTimeout  time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// Prober 打开一个页面，采集信号并生成诊断记录
type Prober struct {
	browser      *rod.Browser
	classifier   *diagnostics.Classifier
	detector     *diagnostics.EarlyChallengeDetector
	sanitizer    *diagnostics.Sanitizer
	sink         RecordSink
	pageTimeout  time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewProber 创建 Prober
func NewProber(browser *rod.Browser, opts ProberOptions) *Prober {
	p := &Prober{
		browser:      browser,
		classifier:   opts.Classifier,
		detector:     opts.Detector,
		sanitizer:    opts.Sanitizer,
		sink:         opts.Sink,
		pageTimeout:  opts.PageTimeout,
		probeTimeout: opts.ProbeTimeout,
		logger:       opts.Logger,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	if p.classifier == nil {
		p.classifier = diagnostics.NewClassifier(diagnostics.ClassifierOptions{Logger: p.logger})
	}
	if p.detector == nil {
		p.detector = diagnostics.NewEarlyChallengeDetector(p.logger)
	}
	if p.sanitizer == nil {
		p.sanitizer = diagnostics.NewSanitizer(diagnostics.SanitizeOptions{})
	}
	if p.pageTimeout <= 0 {
		p.pageTimeout = 30 * time.Second
	}
	return p
}

// Probe 导航到 url 并返回诊断记录。
// 导航失败不视为错误（它本身就是诊断对象），只有页面无法创建时返回 error。
func (p *Prober) Probe(ctx context.Context, url string) (*diagnostics.Record, error) {
	tl := diagnostics.NewTimeline()
	col := NewCollector(url)
	log := p.logger.With(slog.String("request_id", col.RequestID()), slog.String("url", url))

	page, err := NewStealthPage(p.browser)
	if err != nil {
		metrics.BrowserProbesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	defer func() { _ = page.Close() }()
	tl.Mark(StagePageCreated)

	wait := col.Attach(page)
	go wait()

	navCtx, navCancel := context.WithTimeout(ctx, p.pageTimeout)
	defer navCancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		p.noteLoadError(col, navCtx, err)
		log.Debug("navigate failed", slog.String("error", err.Error()))
	}
	tl.Mark(StageNavigated)

	early := p.detector.Detect(ctx, NewRodProbe(page, p.probeTimeout))
	tl.Mark(StageEarlyDetection)

	// 早期命中挑战时不再等待资源加载
	if !early.HasChallenge {
		if err := page.Context(navCtx).WaitLoad(); err != nil {
			p.noteLoadError(col, navCtx, err)
			log.Debug("wait load failed", slog.String("error", err.Error()))
		}
		tl.Mark(StageLoaded)
	}

	htmlCtx, htmlCancel := context.WithTimeout(ctx, htmlReadTimeout)
	html, err := page.Context(htmlCtx).HTML()
	htmlCancel()
	if err == nil {
		col.SetBody(html)
	}

	bundle := col.Bundle()
	res := p.classifier.Classify(bundle)
	tl.Mark(StageClassified)

	rec := diagnostics.NewRecord(diagnostics.RecordInput{
		Bundle:   bundle,
		Result:   res,
		Timeline: tl,
		Early:    &early,
		Payload: diagnostics.Payload{
			Headers: col.MainHeaders(),
			HTML:    html,
			HAR:     col.HAR(),
		},
	}, p.sanitizer)

	metrics.BrowserProbesTotal.WithLabelValues("success").Inc()

	if p.sink != nil && isFailure(bundle, res) {
		if err := p.sink.PushRecord(ctx, rec); err != nil {
			log.Warn("push diagnostic record failed", slog.String("error", err.Error()))
		}
	}
	return rec, nil
}

func (p *Prober) noteLoadError(col *Collector, navCtx context.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		col.SetNavigationTimedOut(true)
		col.SetError(fmt.Errorf("navigation timeout: %w", err))
		return
	}
	col.SetError(err)
}

// isFailure 兜底结果且没有导航错误时视为正常页面
func isFailure(b diagnostics.SignalBundle, res diagnostics.Result) bool {
	if res.Rule != diagnostics.RuleFallback {
		return true
	}
	return b.NavigationTimedOut || (b.ErrorMessage != nil && strings.TrimSpace(*b.ErrorMessage) != "")
}
