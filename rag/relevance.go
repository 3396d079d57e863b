package rag

import (
	"context"
	"strings"
	"unicode"
)

// LexicalValidator 基于词项重合度的相关性校验器。
// 不依赖外部模型，适合作为默认实现或 LLM 校验的兜底。
type LexicalValidator struct {
	// MinOverlap 判定相关所需的最少重合词数
	MinOverlap int
}

var relevanceStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "can": true,
	"do": true, "for": true, "how": true, "i": true, "in": true,
	"is": true, "it": true, "my": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "what": true, "where": true,
	"why": true, "with": true, "you": true,
}

// Validate 判断文档内容是否覆盖查询中的关键词
func (v *LexicalValidator) Validate(_ context.Context, query string, doc StoredDocument) (bool, error) {
	minOverlap := v.MinOverlap
	if minOverlap <= 0 {
		minOverlap = 1
	}

	terms := contentTerms(query)
	if len(terms) == 0 {
		return true, nil
	}

	content := strings.ToLower(doc.Content)
	overlap := 0
	for term := range terms {
		if strings.Contains(content, term) {
			overlap++
			if overlap >= minOverlap {
				return true, nil
			}
		}
	}
	return false, nil
}

// contentTerms 提取去停用词后的查询词项
func contentTerms(query string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	terms := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) < 2 || relevanceStopwords[f] {
			continue
		}
		terms[f] = true
	}
	return terms
}
