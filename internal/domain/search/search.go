// Package search implements case-insensitive substring search across a
// user's stored messages, grouped by conversation, with context snippets.
package search

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/bodhiapp/chat-core/internal/domain/conversation"
	"github.com/bodhiapp/chat-core/internal/utils/apperrors"
)

const (
	snippetContext  = 50
	snippetFallback = 100
)

// Store is the read surface the search service needs. The conversation
// repository satisfies it.
type Store interface {
	ListConversationsByUser(ctx context.Context, userID string) ([]*conversation.Conversation, error)
	ListMessages(ctx context.Context, convID string) ([]*conversation.Message, error)
}

// MessageMatch pairs a matching message with its highlighted snippet.
type MessageMatch struct {
	Message *conversation.Message
	Snippet string
}

// Result groups the matches of one conversation.
type Result struct {
	Conversation *conversation.Conversation
	Matches      []MessageMatch
}

// Service is a pure query layer: callers are expected to debounce rapid
// input before invoking Search.
type Service struct {
	store Store
}

// NewService creates a search service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Search scans the user's messages for a case-insensitive substring
// match, grouped by conversation and sorted by conversation recency.
// An empty user or blank query yields an empty result without touching
// the store.
func (s *Service) Search(ctx context.Context, userID, query string) ([]Result, error) {
	if userID == "" || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	convs, err := s.store.ListConversationsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to list conversations for search")
	}

	var results []Result
	for _, conv := range convs {
		msgs, err := s.store.ListMessages(ctx, conv.ID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.LayerDomain, err, "failed to scan messages for search")
		}

		var matches []MessageMatch
		for _, msg := range msgs {
			if indexFold([]rune(msg.Content), []rune(query)) < 0 {
				continue
			}
			matches = append(matches, MessageMatch{
				Message: msg,
				Snippet: createSnippet(msg.Content, query),
			})
		}
		if len(matches) > 0 {
			results = append(results, Result{Conversation: conv, Matches: matches})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Conversation.LastModified.After(results[j].Conversation.LastModified)
	})
	return results, nil
}

// createSnippet extracts up to snippetContext characters of context on
// each side of the first case-insensitive occurrence of query, marking
// truncated ends with "...". When no occurrence is found it falls back to
// the first snippetFallback characters.
func createSnippet(content, query string) string {
	runes := []rune(content)
	queryRunes := []rune(query)

	index := indexFold(runes, queryRunes)
	if index < 0 {
		if len(runes) <= snippetFallback {
			return content
		}
		return string(runes[:snippetFallback])
	}

	start := index - snippetContext
	if start < 0 {
		start = 0
	}
	end := index + len(queryRunes) + snippetContext
	if end > len(runes) {
		end = len(runes)
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}
	return snippet
}

// indexFold returns the rune index of the first case-insensitive
// occurrence of needle in haystack, or -1.
func indexFold(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, nr := range needle {
			if unicode.ToLower(haystack[i+j]) != unicode.ToLower(nr) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
