package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase",
			input:    "How Do I Reset My API Key",
			expected: "how do i reset my api key",
		},
		{
			name:     "collapse whitespace",
			input:    "how   do\t\ti\n\nreset",
			expected: "how do i reset",
		},
		{
			name:     "strip punctuation",
			input:    "How do I reset my API key?!",
			expected: "how do i reset my api key",
		},
		{
			name:     "leading and trailing whitespace",
			input:    "   hello world   ",
			expected: "hello world",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "unicode letters preserved",
			input:    "如何重置 API 密钥？",
			expected: "如何重置 api 密钥",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeText(tt.input))
		})
	}
}

func TestHashText_EquivalentQueriesCollide(t *testing.T) {
	// 大小写、空白、标点差异不应产生不同的缓存键
	h1 := HashText("How do I reset my API key?")
	h2 := HashText("how do i reset my api key")
	h3 := HashText("HOW  DO  I  RESET  MY  API  KEY!!!")

	assert.Equal(t, h1, h2)
	assert.Equal(t, h1, h3)
	assert.Len(t, h1, 16)
}

func TestHashText_DifferentQueriesDiffer(t *testing.T) {
	assert.NotEqual(t, HashText("how do I reset my key"), HashText("how do I revoke my key"))
}

func TestHashDocument_TruncatesAtPrefix(t *testing.T) {
	prefix := strings.Repeat("a", 500)

	// 前 500 字符相同的文档哈希相同
	h1 := HashDocument(prefix + "tail one")
	h2 := HashDocument(prefix + "completely different tail")
	assert.Equal(t, h1, h2)

	// 前缀内的差异要反映出来
	h3 := HashDocument("b" + prefix)
	assert.NotEqual(t, h1, h3)
}

func TestHashDocuments_OrderIndependent(t *testing.T) {
	a := []string{"first document", "second document", "third document"}
	b := []string{"third document", "first document", "second document"}

	assert.Equal(t, HashDocuments(a), HashDocuments(b))
	assert.NotEqual(t, HashDocuments(a), HashDocuments([]string{"first document"}))
}

func TestHashContext(t *testing.T) {
	// 无上下文时使用固定占位符，保证键稳定
	empty := HashContext(nil, "")
	assert.Equal(t, empty, HashContext([]Turn{}, ""))

	withHistory := HashContext([]Turn{{Role: "user", Content: "hello"}}, "")
	assert.NotEqual(t, empty, withHistory)

	// 只有最后两轮参与哈希
	long := []Turn{
		{Role: "user", Content: "ancient question"},
		{Role: "assistant", Content: "ancient answer"},
		{Role: "user", Content: "recent question"},
		{Role: "assistant", Content: "recent answer"},
	}
	short := long[2:]
	assert.Equal(t, HashContext(short, ""), HashContext(long, ""))

	// 附加上下文改变键
	assert.NotEqual(t, HashContext(short, ""), HashContext(short, "portfolio: BTC"))
}

func TestHashContext_TruncatesLongTurns(t *testing.T) {
	head := strings.Repeat("x", 100)
	a := []Turn{{Role: "user", Content: head + "tail-a"}}
	b := []Turn{{Role: "user", Content: head + "tail-b"}}

	assert.Equal(t, HashContext(a, ""), HashContext(b, ""))
}
