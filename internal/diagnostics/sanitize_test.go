package diagnostics

import (
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizer_RedactHeaders(t *testing.T) {
	s := NewSanitizer(SanitizeOptions{})

	in := map[string]string{
		"Authorization": "Bearer abc",
		"COOKIE":        "sid=1",
		"x-api-key":     "k",
		"X-Auth-Token":  "t",
		"Accept":        "text/html",
	}
	out := s.RedactHeaders(in)

	assert.Equal(t, RedactedMarker, out["Authorization"])
	assert.Equal(t, RedactedMarker, out["COOKIE"])
	assert.Equal(t, RedactedMarker, out["x-api-key"])
	assert.Equal(t, RedactedMarker, out["X-Auth-Token"])
	assert.Equal(t, "text/html", out["Accept"])
	assert.Equal(t, "Bearer abc", in["Authorization"], "input is not modified")

	assert.Nil(t, s.RedactHeaders(nil))
}

func TestSanitizer_CustomDenyList(t *testing.T) {
	s := NewSanitizer(SanitizeOptions{RedactHeaders: []string{" Set-Cookie "}})

	out := s.RedactHeaders(map[string]string{"set-cookie": "a", "Authorization": "b"})
	assert.Equal(t, RedactedMarker, out["set-cookie"])
	assert.Equal(t, "b", out["Authorization"], "custom list replaces defaults")
}

func TestSanitizer_TruncateHTML(t *testing.T) {
	s := NewSanitizer(SanitizeOptions{})

	long := strings.Repeat("A", 2000)
	got := s.TruncateHTML(long)
	assert.Equal(t, strings.Repeat("A", 1000)+TruncationMarker, got)
	assert.Equal(t, got, s.TruncateHTML(got), "idempotent")

	assert.Equal(t, "short", s.TruncateHTML("short"))
	assert.Equal(t, "", s.TruncateHTML(""))

	exact := strings.Repeat("B", 1000)
	assert.Equal(t, exact, s.TruncateHTML(exact))

	// 按字符而非字节计数
	cjk := strings.Repeat("页", 1001)
	assert.Equal(t, strings.Repeat("页", 1000)+TruncationMarker, s.TruncateHTML(cjk))
}

func TestSanitizer_TruncateHTML_OriginalEndsWithMarker(t *testing.T) {
	s := NewSanitizer(SanitizeOptions{})

	// 原文恰好以标记结尾但超长，仍需截断
	html := strings.Repeat("C", 990) + TruncationMarker
	got := s.TruncateHTML(html)

	want := strings.Repeat("C", 990) + TruncationMarker[:10] + TruncationMarker
	assert.Equal(t, want, got)
	assert.Equal(t, 1000+utf8.RuneCountInString(TruncationMarker), utf8.RuneCountInString(got))
	assert.Equal(t, got, s.TruncateHTML(got))
}

func TestSanitizer_TruncateHAR(t *testing.T) {
	s := NewSanitizer(SanitizeOptions{})

	var entries []HAREntry
	for i := 0; i < 15; i++ {
		entries = append(entries, HAREntry{
			Request: HARRequest{
				Method:  "GET",
				URL:     "https://example.com/" + strconv.Itoa(i),
				Headers: []HARHeader{{Name: "Cookie", Value: "sid"}, {Name: "Accept", Value: "*/*"}},
			},
			Response: HARResponse{Status: 200, Content: HARContent{Size: 100, MimeType: "text/html"}},
		})
	}
	entries[6].Response.Content.Size = 10000 // 恰好等于上限，丢弃
	entries[7].Response.BodySize = 20000
	entries[8].Response.Content.MimeType = "image/png"
	entries[9].Response.Content.MimeType = "Video/MP4"

	out := s.TruncateHAR(entries)

	require.Len(t, out, 6)
	assert.Equal(t, "https://example.com/5", out[0].Request.URL, "keeps the last ten before filtering")
	assert.Equal(t, "https://example.com/10", out[1].Request.URL)
	assert.Equal(t, "https://example.com/14", out[5].Request.URL)
	for _, e := range out {
		assert.Equal(t, RedactedMarker, e.Request.Headers[0].Value)
		assert.Equal(t, "*/*", e.Request.Headers[1].Value)
	}

	// 输入不被修改
	assert.Len(t, entries, 15)
	assert.Equal(t, "sid", entries[14].Request.Headers[0].Value)

	assert.Nil(t, s.TruncateHAR(nil))
}

func TestSanitize_Payload(t *testing.T) {
	in := Payload{
		Headers: map[string]string{"Cookie": "sid=1"},
		HTML:    strings.Repeat("x", 50),
		HAR:     []HAREntry{{Request: HARRequest{URL: "https://example.com/"}}},
	}

	out := Sanitize(in, SanitizeOptions{MaxHTMLLength: 10})
	assert.Equal(t, RedactedMarker, out.Headers["Cookie"])
	assert.Equal(t, strings.Repeat("x", 10)+TruncationMarker, out.HTML)
	assert.Len(t, out.HAR, 1)

	assert.Equal(t, "sid=1", in.Headers["Cookie"])
	assert.Len(t, in.HTML, 50)
}

func TestDefaultSanitizeOptions_IsCopy(t *testing.T) {
	opts := DefaultSanitizeOptions()
	opts.RedactHeaders[0] = "changed"

	assert.Equal(t, "authorization", DefaultRedactHeaders[0])
}
