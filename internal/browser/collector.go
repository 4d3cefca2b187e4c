package browser

import (
	"strings"
	"sync"

	"crawldiag/internal/diagnostics"
	"crawldiag/internal/pkg/metrics"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

const maxStackFrames = 3

type requestInfo struct {
	url          string
	method       string
	resourceType string
	headers      map[string]string
}

// Collector 从 CDP 事件中累积一次导航的失败信号。可并发写入。
type Collector struct {
	mu sync.Mutex

	requestID   string
	requestURL  string
	statusCode  *int
	contentType string
	body        *string
	errMsg      *string
	timedOut    bool

	console  []diagnostics.ConsoleError
	network  []diagnostics.NetworkError
	pageErrs []diagnostics.PageError

	requests map[string]requestInfo
	har      []diagnostics.HAREntry
	harIndex map[string]int // CDP request id -> har 下标

	mainResponseID string
}

// NewCollector 为目标 URL 创建采集器并分配请求 ID
func NewCollector(requestURL string) *Collector {
	return &Collector{
		requestID:  uuid.NewString(),
		requestURL: requestURL,
		requests:   make(map[string]requestInfo),
		harIndex:   make(map[string]int),
	}
}

// RequestID 本次导航的请求 ID
func (c *Collector) RequestID() string {
	return c.requestID
}

// Attach 订阅页面事件，返回的 wait 函数在页面关闭前阻塞，需在 goroutine 中运行
func (c *Collector) Attach(page *rod.Page) (wait func()) {
	_ = (proto.NetworkEnable{}).Call(page)
	_ = (proto.RuntimeEnable{}).Call(page)

	return page.EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			if e.Type != proto.RuntimeConsoleAPICalledTypeError {
				return
			}
			c.RecordConsoleError(consoleMessage(e.Args), stackSource(e.StackTrace))
		},
		func(e *proto.RuntimeExceptionThrown) {
			if e.ExceptionDetails == nil {
				return
			}
			d := e.ExceptionDetails
			msg := d.Text
			if d.Exception != nil && d.Exception.Description != "" {
				msg = d.Exception.Description
			}
			c.RecordPageError(msg, stackSummary(d.StackTrace))
		},
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Request == nil {
				return
			}
			c.RecordRequest(string(e.RequestID), e.Request.URL, e.Request.Method, string(e.Type), headerMap(e.Request.Headers))
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil {
				return
			}
			c.RecordResponse(string(e.RequestID), e.Response.URL, e.Response.Status, e.Response.MIMEType,
				string(e.Type), headerMap(e.Response.Headers), int(e.Response.EncodedDataLength))
		},
		// ResponseReceived 时的 EncodedDataLength 只含已到达的字节，以加载完成时为准
		func(e *proto.NetworkLoadingFinished) {
			c.RecordLoadingFinished(string(e.RequestID), int(e.EncodedDataLength))
		},
		func(e *proto.NetworkLoadingFailed) {
			if e.Canceled {
				return
			}
			c.RecordLoadingFailed(string(e.RequestID), e.ErrorText, string(e.Type))
		},
	)
}

// RecordConsoleError 记录 console.error
func (c *Collector) RecordConsoleError(message, sourceURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.console = append(c.console, diagnostics.ConsoleError{Message: message, SourceURL: sourceURL})
	metrics.BrowserEventsTotal.WithLabelValues("console").Inc()
}

// RecordPageError 记录未捕获异常
func (c *Collector) RecordPageError(message, stack string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageErrs = append(c.pageErrs, diagnostics.PageError{Message: message, StackSummary: stack})
	metrics.BrowserEventsTotal.WithLabelValues("page_error").Inc()
}

// RecordRequest 登记请求，失败事件只带 request id
func (c *Collector) RecordRequest(id, url, method, resourceType string, headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[id] = requestInfo{url: url, method: method, resourceType: resourceType, headers: headers}
}

// RecordResponse 记录响应；第一个 Document 响应视为主文档
func (c *Collector) RecordResponse(id, url string, status int, mimeType, resourceType string, headers map[string]string, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := c.requests[id]
	if url == "" {
		url = req.url
	}
	if c.statusCode == nil && strings.EqualFold(resourceType, string(proto.NetworkResourceTypeDocument)) {
		s := status
		c.statusCode = &s
		c.contentType = mimeType
		c.mainResponseID = id
	}

	c.harIndex[id] = len(c.har)
	c.har = append(c.har, diagnostics.HAREntry{
		Request: diagnostics.HARRequest{
			Method:  req.method,
			URL:     url,
			Headers: harHeaders(req.headers),
		},
		Response: diagnostics.HARResponse{
			Status:   status,
			Headers:  harHeaders(headers),
			Content:  diagnostics.HARContent{Size: size, MimeType: mimeType},
			BodySize: size,
		},
	})
}

// RecordLoadingFinished 用最终传输字节数更新对应 HAR 条目
func (c *Collector) RecordLoadingFinished(id string, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.harIndex[id]
	if !ok {
		return
	}
	c.har[i].Response.Content.Size = size
	c.har[i].Response.BodySize = size
}

// RecordLoadingFailed 记录失败的子请求
func (c *Collector) RecordLoadingFailed(id, reason, resourceType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[id]
	if !ok {
		req = requestInfo{resourceType: resourceType}
	}
	if resourceType == "" {
		resourceType = req.resourceType
	}
	c.network = append(c.network, diagnostics.NetworkError{
		URL:           req.url,
		FailureReason: reason,
		Method:        req.method,
		ResourceType:  strings.ToLower(resourceType),
	})
	metrics.BrowserEventsTotal.WithLabelValues("network").Inc()
}

// SetNavigationTimedOut 标记导航超时
func (c *Collector) SetNavigationTimedOut(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timedOut = v
}

// SetError 记录导航层面的错误信息
func (c *Collector) SetError(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errMsg = &msg
}

// SetBody 记录主文档 HTML
func (c *Collector) SetBody(html string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = &html
}

// Bundle 返回当前信号快照
func (c *Collector) Bundle() diagnostics.SignalBundle {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.requestID
	b := diagnostics.SignalBundle{
		StatusCode:         copyInt(c.statusCode),
		ResponseBody:       copyString(c.body),
		ConsoleErrors:      append([]diagnostics.ConsoleError(nil), c.console...),
		NetworkErrors:      append([]diagnostics.NetworkError(nil), c.network...),
		PageErrors:         append([]diagnostics.PageError(nil), c.pageErrs...),
		NavigationTimedOut: c.timedOut,
		ErrorMessage:       copyString(c.errMsg),
		RequestURL:         c.requestURL,
		ContentType:        c.contentType,
		RequestID:          &id,
	}
	return b
}

// HAR 返回已记录的请求/响应对（未脱敏）
func (c *Collector) HAR() []diagnostics.HAREntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]diagnostics.HAREntry(nil), c.har...)
}

// MainHeaders 主文档（第一个 Document 响应）的响应头
func (c *Collector) MainHeaders() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.harIndex[c.mainResponseID]
	if c.mainResponseID == "" || !ok {
		return nil
	}
	e := c.har[i]
	out := make(map[string]string, len(e.Response.Headers))
	for _, h := range e.Response.Headers {
		out[h.Name] = h.Value
	}
	return out
}

func consoleMessage(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if a.Type == proto.RuntimeRemoteObjectTypeString {
			parts = append(parts, a.Value.Str())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
			continue
		}
		parts = append(parts, a.Value.String())
	}
	return strings.Join(parts, " ")
}

func stackSource(st *proto.RuntimeStackTrace) string {
	if st == nil || len(st.CallFrames) == 0 {
		return ""
	}
	return st.CallFrames[0].URL
}

// stackSummary 取前几帧，避免整段堆栈进入日志
func stackSummary(st *proto.RuntimeStackTrace) string {
	if st == nil {
		return ""
	}
	frames := st.CallFrames
	if len(frames) > maxStackFrames {
		frames = frames[:maxStackFrames]
	}
	lines := make([]string, 0, len(frames))
	for _, f := range frames {
		name := f.FunctionName
		if name == "" {
			name = "<anonymous>"
		}
		lines = append(lines, name+" "+f.URL)
	}
	return strings.Join(lines, "\n")
}

func headerMap(h proto.NetworkHeaders) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}

func harHeaders(h map[string]string) []diagnostics.HARHeader {
	if len(h) == 0 {
		return nil
	}
	out := make([]diagnostics.HARHeader, 0, len(h))
	for k, v := range h {
		out = append(out, diagnostics.HARHeader{Name: k, Value: v})
	}
	return out
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
