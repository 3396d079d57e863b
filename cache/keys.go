package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// Turn 会话历史中的一轮消息
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// NormalizeText 规范化文本用于一致性哈希：
// 小写、去首尾空白、折叠空白、去标点。
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	normalized = punctuationRe.ReplaceAllString(normalized, "")
	return normalized
}

// HashText 对规范化文本取 SHA256，返回前 16 个十六进制字符。
func HashText(text string) string {
	return hashRaw(NormalizeText(text))
}

// HashDocument 对文档文本取哈希（只取前 500 字符，足以区分）。
func HashDocument(docText string) string {
	if len(docText) > 500 {
		docText = docText[:500]
	}
	return HashText(docText)
}

// HashDocuments 对文档列表取顺序无关哈希。
func HashDocuments(docTexts []string) string {
	hashes := make([]string, 0, len(docTexts))
	for _, text := range docTexts {
		hashes = append(hashes, HashDocument(text))
	}
	sort.Strings(hashes)
	return hashRaw(strings.Join(hashes, "|"))
}

// HashContext 对会话上下文取哈希：最近两轮历史（每轮内容截取前
// 100 字符）加可选的旁路上下文（截取前 200 字符）。上下文不同的
// 相同问题由此得到不同的组合键。
func HashContext(history []Turn, sideContext string) string {
	parts := make([]string, 0, 3)

	recent := history
	if len(recent) > 2 {
		recent = recent[len(recent)-2:]
	}
	for _, turn := range recent {
		content := turn.Content
		if len(content) > 100 {
			content = content[:100]
		}
		parts = append(parts, turn.Role+":"+content)
	}

	if sideContext != "" {
		if len(sideContext) > 200 {
			sideContext = sideContext[:200]
		}
		parts = append(parts, HashText(sideContext))
	}

	combined := "no_context"
	if len(parts) > 0 {
		combined = strings.Join(parts, "|")
	}
	return hashRaw(combined)
}

func hashRaw(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
