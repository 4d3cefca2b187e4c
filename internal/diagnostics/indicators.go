package diagnostics

import "strings"

// 挑战页类别
const (
	ChallengeCloudflare   = "CLOUDFLARE"
	ChallengeAkamai       = "AKAMAI"
	ChallengeCaptcha      = "CAPTCHA"
	ChallengeBotDetection = "BOT_DETECTION"
)

// challengeCategoryOrder 固定匹配顺序，保证同时命中多个类别时结果稳定
var challengeCategoryOrder = []string{
	ChallengeCloudflare,
	ChallengeAkamai,
	ChallengeCaptcha,
	ChallengeBotDetection,
}

// challengeIndicators 挑战页特征（小写，子串匹配）
var challengeIndicators = map[string][]string{
	ChallengeCloudflare: {
		"checking your browser",
		"cf-browser-verification",
		"challenge-platform",
		"challenges.cloudflare.com",
		"cf-chl-",
		"cf-turnstile",
		"just a moment...",
		"attention required! | cloudflare",
	},
	ChallengeAkamai: {
		"akamai bot manager",
		"_abck",
		"ak_bmsc",
		"reference #18.",
	},
	ChallengeCaptcha: {
		"captcha",
		"verify you are human",
		"are you a robot",
		"i'm not a robot",
	},
	ChallengeBotDetection: {
		"bot detection",
		"unusual traffic",
		"automated requests",
		"perimeterx",
		"datadome",
		"distil_r_captcha",
	},
}

// blockingStatuses 表示封锁的 HTTP 状态码
var blockingStatuses = map[int]string{
	403: "forbidden",
	429: "too_many_requests",
	451: "unavailable_for_legal_reasons",
	503: "service_unavailable",
}

// MatchChallenge 在正文中查找挑战页特征，返回命中的类别。
func MatchChallenge(body string) (string, bool) {
	if body == "" {
		return "", false
	}
	lower := strings.ToLower(body)
	for _, category := range challengeCategoryOrder {
		if containsAny(lower, challengeIndicators[category]) {
			return category, true
		}
	}
	return "", false
}

// BlockingStatusLabel 返回封锁状态码的标签。
func BlockingStatusLabel(status int) (string, bool) {
	label, ok := blockingStatuses[status]
	return label, ok
}

// containsAny 检查文本是否包含任意一个关键词
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
