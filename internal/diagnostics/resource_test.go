package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceClassifier_Category(t *testing.T) {
	rc := NewResourceClassifier()

	tests := []struct {
		url         string
		contentType string
		want        string
	}{
		{"https://example.com/static/logo.PNG", "", CategoryImages},
		{"https://example.com/favicon.ico", "", CategoryImages},
		{"https://fonts.googleapis.com/css2?family=Inter", "", CategoryFonts},
		{"https://example.com/assets/app.woff2", "", CategoryFonts},
		{"https://www.googletagmanager.com/gtm.js", "", CategoryAnalytics},
		{"https://static.hotjar.com/c/hotjar.js", "", CategoryAnalytics},
		{"https://stats.g.doubleclick.net/r/collect", "", CategoryTracking},
		{"https://cdn.cookielaw.org/consent.js", "", CategoryConsent},
		{"https://pagead2.googlesyndication.com/tag.js", "", CategoryAds},
		{"https://connect.facebook.net/en_US/sdk.js", "", CategorySocial},
		{"https://d1234.cloudfront.net/bundle.js", "", CategoryCDN},
		{"https://example.com/img?id=1", "image/avif", categoryMIME},
		{"https://example.com/f", "font/woff2", categoryMIME},
		{"https://example.com/s", "text/css; charset=utf-8", categoryMIME},
		{"https://api.example.com/v1/items", "application/json", ""},
		{"https://shop.example.com/", "text/html", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, rc.Category(tt.url, tt.contentType))
			assert.Equal(t, tt.want != "", rc.IsNonCritical(tt.url, tt.contentType))
		})
	}
}

func TestResourceClassifier_IsNonCriticalType(t *testing.T) {
	rc := NewResourceClassifier()

	for _, typ := range []string{"Image", "font", " Stylesheet ", "MEDIA", "Ping"} {
		assert.True(t, rc.IsNonCriticalType(typ), typ)
	}
	for _, typ := range []string{"", "Document", "XHR", "Fetch", "Script"} {
		assert.False(t, rc.IsNonCriticalType(typ), typ)
	}
}

func TestResourceClassifier_FilterCritical(t *testing.T) {
	rc := NewResourceClassifier()

	critical, filtered := rc.FilterCritical([]NetworkError{
		{URL: "https://example.com/a.png"},
		{URL: "https://example.com/b.jpg"},
		{URL: "https://www.google-analytics.com/collect"},
		{URL: "https://example.com/blob", ResourceType: "Media"},
		{URL: "https://api.example.com/items", ResourceType: "XHR"},
		{URL: "https://example.com/app.js", ResourceType: "Script"},
	})

	assert.Len(t, critical, 2)
	assert.Equal(t, "https://api.example.com/items", critical[0].URL)
	assert.Equal(t, "https://example.com/app.js", critical[1].URL)
	assert.Equal(t, map[string]int{CategoryImages: 2, CategoryAnalytics: 1, categoryType: 1}, filtered)

	critical, filtered = rc.FilterCritical(nil)
	assert.Empty(t, critical)
	assert.Empty(t, filtered)
}
