package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexicalValidator(t *testing.T) {
	v := &LexicalValidator{}
	ctx := context.Background()

	tests := []struct {
		name     string
		query    string
		content  string
		relevant bool
	}{
		{
			name:     "keyword present",
			query:    "how do I rotate my webhook secret",
			content:  "To rotate the webhook secret, open the settings page.",
			relevant: true,
		},
		{
			name:     "no overlap",
			query:    "how do I rotate my webhook secret",
			content:  "Billing plans are charged monthly in arrears.",
			relevant: false,
		},
		{
			name:     "stopwords only query is trivially relevant",
			query:    "what is it",
			content:  "anything at all",
			relevant: true,
		},
		{
			name:     "case insensitive",
			query:    "API Key",
			content:  "generate a new api key under credentials",
			relevant: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := v.Validate(ctx, tt.query, StoredDocument{Content: tt.content})
			assert.NoError(t, err)
			assert.Equal(t, tt.relevant, ok)
		})
	}
}

func TestLexicalValidator_MinOverlap(t *testing.T) {
	v := &LexicalValidator{MinOverlap: 2}
	ctx := context.Background()

	ok, err := v.Validate(ctx, "configure webhook retries", StoredDocument{
		Content: "webhook delivery is attempted once",
	})
	assert.NoError(t, err)
	assert.False(t, ok, "single overlapping term should not satisfy MinOverlap=2")

	ok, err = v.Validate(ctx, "configure webhook retries", StoredDocument{
		Content: "configure how many webhook delivery attempts are made",
	})
	assert.NoError(t, err)
	assert.True(t, ok)
}
