package browser

import (
	"context"
	"time"

	"crawldiag/internal/diagnostics"

	"github.com/go-rod/rod"
)

const (
	defaultProbeTimeout = 2 * time.Second

	challengeElementSelector = `[id*="challenge"], [class*="challenge"], [id*="captcha"], [class*="captcha"]`
)

// RodProbe 基于 rod 页面的只读探测。每次读取带独立超时，不会阻塞早期检测。
type RodProbe struct {
	page    *rod.Page
	timeout time.Duration
}

var _ diagnostics.PageProbe = (*RodProbe)(nil)

// NewRodProbe 创建探测；timeout <= 0 时使用 2s
func NewRodProbe(page *rod.Page, timeout time.Duration) *RodProbe {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &RodProbe{page: page, timeout: timeout}
}

func (p *RodProbe) scoped(ctx context.Context) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	return p.page.Context(ctx), cancel
}

// Title 实现 PageProbe
func (p *RodProbe) Title(ctx context.Context) (string, error) {
	page, cancel := p.scoped(ctx)
	defer cancel()
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// URL 实现 PageProbe
func (p *RodProbe) URL(ctx context.Context) (string, error) {
	page, cancel := p.scoped(ctx)
	defer cancel()
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// BodyText 实现 PageProbe
func (p *RodProbe) BodyText(ctx context.Context) (string, error) {
	page, cancel := p.scoped(ctx)
	defer cancel()
	body, err := page.Element("body")
	if err != nil {
		return "", err
	}
	return body.Text()
}

// HasChallengeElement 实现 PageProbe
func (p *RodProbe) HasChallengeElement(ctx context.Context) (bool, error) {
	page, cancel := p.scoped(ctx)
	defer cancel()
	found, _, err := page.Has(challengeElementSelector)
	return found, err
}
