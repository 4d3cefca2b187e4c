package diagnostics

import (
	"strings"
	"unicode/utf8"
)

const (
	RedactedMarker   = "[REDACTED]"
	TruncationMarker = "...[truncated]"

	DefaultMaxHTMLLength  = 1000
	DefaultMaxHAREntries  = 10
	DefaultMaxHARBodySize = 10000
)

// DefaultRedactHeaders 默认脱敏的请求头（小写）
var DefaultRedactHeaders = []string{"authorization", "cookie", "x-api-key", "x-auth-token"}

// HARHeader HAR 头部
type HARHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARContent 响应体描述
type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

// HARRequest HAR 请求
type HARRequest struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers []HARHeader `json:"headers,omitempty"`
}

// HARResponse HAR 响应
type HARResponse struct {
	Status   int         `json:"status"`
	Headers  []HARHeader `json:"headers,omitempty"`
	Content  HARContent  `json:"content"`
	BodySize int         `json:"bodySize"`
}

// HAREntry 单个请求/响应对（HAR 1.2 子集）
type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime,omitempty"`
	Time            int         `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
}

// Payload 附在诊断记录上的原始载荷
type Payload struct {
	Headers map[string]string `json:"headers,omitempty"`
	HTML    string            `json:"html,omitempty"`
	HAR     []HAREntry        `json:"har,omitempty"`
}

// SanitizeOptions 脱敏与截断参数，零值字段使用默认值
type SanitizeOptions struct {
	MaxHTMLLength  int      `json:"max_html_length"`
	MaxHAREntries  int      `json:"max_har_entries"`
	MaxHARBodySize int      `json:"max_har_body_size"`
	RedactHeaders  []string `json:"redact_headers"`
}

// DefaultSanitizeOptions 返回默认参数
func DefaultSanitizeOptions() SanitizeOptions {
	return SanitizeOptions{
		MaxHTMLLength:  DefaultMaxHTMLLength,
		MaxHAREntries:  DefaultMaxHAREntries,
		MaxHARBodySize: DefaultMaxHARBodySize,
		RedactHeaders:  append([]string(nil), DefaultRedactHeaders...),
	}
}

func (o SanitizeOptions) withDefaults() SanitizeOptions {
	d := DefaultSanitizeOptions()
	if o.MaxHTMLLength <= 0 {
		o.MaxHTMLLength = d.MaxHTMLLength
	}
	if o.MaxHAREntries <= 0 {
		o.MaxHAREntries = d.MaxHAREntries
	}
	if o.MaxHARBodySize <= 0 {
		o.MaxHARBodySize = d.MaxHARBodySize
	}
	if len(o.RedactHeaders) == 0 {
		o.RedactHeaders = d.RedactHeaders
	}
	return o
}

// Sanitizer 在载荷写入日志或诊断记录前剥离敏感头并截断大体积内容。无状态，可并发使用。
type Sanitizer struct {
	opts   SanitizeOptions
	denied map[string]bool
}

// NewSanitizer 创建脱敏器
func NewSanitizer(opts SanitizeOptions) *Sanitizer {
	opts = opts.withDefaults()
	denied := make(map[string]bool, len(opts.RedactHeaders))
	for _, h := range opts.RedactHeaders {
		denied[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return &Sanitizer{opts: opts, denied: denied}
}

// Sanitize 使用给定参数处理载荷
func Sanitize(p Payload, opts SanitizeOptions) Payload {
	return NewSanitizer(opts).Sanitize(p)
}

// Sanitize 返回处理后的副本，不修改输入
func (s *Sanitizer) Sanitize(p Payload) Payload {
	return Payload{
		Headers: s.RedactHeaders(p.Headers),
		HTML:    s.TruncateHTML(p.HTML),
		HAR:     s.TruncateHAR(p.HAR),
	}
}

// RedactHeaders 替换黑名单头部的值，其余原样保留
func (s *Sanitizer) RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if s.denied[strings.ToLower(k)] {
			out[k] = RedactedMarker
			continue
		}
		out[k] = v
	}
	return out
}

// TruncateHTML 超过 MaxHTMLLength 个字符时截断并追加标记。
// 已截断的结果再次处理保持不变。
func (s *Sanitizer) TruncateHTML(html string) string {
	limit := s.opts.MaxHTMLLength
	if utf8.RuneCountInString(html) <= limit {
		return html
	}
	// 只有本函数自己的输出（恰好 limit 个字符加标记）才视为已截断
	if strings.HasSuffix(html, TruncationMarker) &&
		utf8.RuneCountInString(strings.TrimSuffix(html, TruncationMarker)) == limit {
		return html
	}
	runes := []rune(html)
	return string(runes[:limit]) + TruncationMarker
}

// TruncateHAR 只保留最后 MaxHAREntries 条，并丢弃大响应体与图片/视频。有损、不可逆。
func (s *Sanitizer) TruncateHAR(entries []HAREntry) []HAREntry {
	if entries == nil {
		return nil
	}
	if len(entries) > s.opts.MaxHAREntries {
		entries = entries[len(entries)-s.opts.MaxHAREntries:]
	}
	out := make([]HAREntry, 0, len(entries))
	for _, e := range entries {
		if harBodySize(e) >= s.opts.MaxHARBodySize {
			continue
		}
		mime := strings.ToLower(e.Response.Content.MimeType)
		if strings.Contains(mime, "image") || strings.Contains(mime, "video") {
			continue
		}
		e.Request.Headers = s.redactHARHeaders(e.Request.Headers)
		e.Response.Headers = s.redactHARHeaders(e.Response.Headers)
		out = append(out, e)
	}
	return out
}

func (s *Sanitizer) redactHARHeaders(headers []HARHeader) []HARHeader {
	if headers == nil {
		return nil
	}
	out := make([]HARHeader, len(headers))
	for i, h := range headers {
		if s.denied[strings.ToLower(h.Name)] {
			h.Value = RedactedMarker
		}
		out[i] = h
	}
	return out
}

func harBodySize(e HAREntry) int {
	if e.Response.Content.Size > e.Response.BodySize {
		return e.Response.Content.Size
	}
	return e.Response.BodySize
}
