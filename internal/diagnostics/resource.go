package diagnostics

import "strings"

// 非关键资源类别
const (
	CategoryImages    = "images"
	CategoryFonts     = "fonts"
	CategoryAnalytics = "analytics"
	CategoryTracking  = "tracking"
	CategoryConsent   = "consent"
	CategoryAds       = "ads"
	CategorySocial    = "social"
	CategoryCDN       = "cdn"
	categoryMIME      = "content_type"
	categoryType      = "resource_type"
)

type resourceCategory struct {
	name     string
	patterns []string
}

// nonCriticalCategories URL 子串表（小写）。
// 顺序即 Category 的判定顺序。
var nonCriticalCategories = []resourceCategory{
	{CategoryImages, []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif", ".bmp"}},
	{CategoryFonts, []string{".woff", ".woff2", ".ttf", ".otf", ".eot", "fonts.googleapis", "fonts.gstatic", "use.typekit"}},
	{CategoryAnalytics, []string{"google-analytics", "googletagmanager", "analytics.", "/analytics", "segment.io", "mixpanel", "hotjar", "newrelic", "nr-data"}},
	{CategoryTracking, []string{"tracking", "/pixel", "beacon", "doubleclick", "criteo", "appsflyer", "sentry.io"}},
	{CategoryConsent, []string{"onetrust", "cookielaw", "cookiebot", "trustarc", "consent."}},
	{CategoryAds, []string{"/ads/", "adservice", "adsystem", "googlesyndication", "adnxs", "taboola", "outbrain"}},
	{CategorySocial, []string{"facebook", "twitter", "linkedin", "pinterest", "instagram", "tiktok"}},
	{CategoryCDN, []string{"cdn.", "cloudfront", "akamaihd", "fastly"}},
}

// nonCriticalResourceTypes 可忽略的 CDP 资源类型（小写）
var nonCriticalResourceTypes = map[string]bool{
	"image":      true,
	"font":       true,
	"stylesheet": true,
	"media":      true,
	"ping":       true,
}

// ResourceClassifier 判断失败的子资源是否会影响核心内容。无状态，可并发使用。
type ResourceClassifier struct{}

// NewResourceClassifier 创建资源分类器
func NewResourceClassifier() *ResourceClassifier {
	return &ResourceClassifier{}
}

// IsNonCritical URL 命中类别表，或 contentType 为 image/*、font/*、text/css 时返回 true。
func (rc *ResourceClassifier) IsNonCritical(url, contentType string) bool {
	return rc.Category(url, contentType) != ""
}

// IsNonCriticalType 按 CDP 资源类型判断
func (rc *ResourceClassifier) IsNonCriticalType(resourceType string) bool {
	return nonCriticalResourceTypes[strings.ToLower(strings.TrimSpace(resourceType))]
}

// Category 返回命中的非关键类别，关键资源返回空串。
func (rc *ResourceClassifier) Category(url, contentType string) string {
	lowerURL := strings.ToLower(url)
	for _, c := range nonCriticalCategories {
		if containsAny(lowerURL, c.patterns) {
			return c.name
		}
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "font/") || ct == "text/css" ||
		strings.HasPrefix(ct, "text/css;") {
		return categoryMIME
	}
	return ""
}

// FilterCritical 拆分网络错误：返回关键错误列表以及被过滤的数量。
func (rc *ResourceClassifier) FilterCritical(errs []NetworkError) (critical []NetworkError, filtered map[string]int) {
	filtered = make(map[string]int)
	for _, e := range errs {
		if cat := rc.Category(e.URL, e.ContentType); cat != "" {
			filtered[cat]++
			continue
		}
		if rc.IsNonCriticalType(e.ResourceType) {
			filtered[categoryType]++
			continue
		}
		critical = append(critical, e)
	}
	return critical, filtered
}
