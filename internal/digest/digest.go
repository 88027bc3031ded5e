// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

// Package digest builds the bounded context summary used to seed a
// recreated remote session. The digest is deterministic for a given
// message log and bootstrap state: no wall-clock content, no
// randomness, so a recovery retry seeds identically.
package digest

import (
	"sort"
	"strings"

	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/store"
)

const (
	// maxTopics is how many recent user snippets are included.
	maxTopics = 5
	// topicRunes caps each topic snippet.
	topicRunes = 80
	// excerptRunes caps the excerpt of the most recent turn.
	excerptRunes = 400
	// maxRunes caps the whole digest.
	maxRunes = 2000
)

// Builder assembles context digests.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build produces the digest from durable history plus bootstrap
// state. It never fails: missing or partial inputs degrade to a
// shorter digest.
func (b *Builder) Build(history []*store.Message, init bootstrap.InitState) string {
	var sb strings.Builder

	sb.WriteString("Resuming an existing conversation. Prior context follows.\n")

	if len(init.Facts) > 0 {
		keys := make([]string, 0, len(init.Facts))
		for k := range init.Facts {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("Known facts:\n")
		for _, k := range keys {
			sb.WriteString("- ")
			sb.WriteString(truncate(k+": "+init.Facts[k], topicRunes))
			sb.WriteString("\n")
		}
	}

	for _, note := range init.Notes {
		if note == "" {
			continue
		}
		sb.WriteString("Note: ")
		sb.WriteString(truncate(note, topicRunes))
		sb.WriteString("\n")
	}

	if topics := recentUserTopics(history); len(topics) > 0 {
		sb.WriteString("Recent topics:\n")
		for _, topic := range topics {
			sb.WriteString("- ")
			sb.WriteString(topic)
			sb.WriteString("\n")
		}
	}

	if last := lastMessage(history); last != nil {
		sb.WriteString("Most recent ")
		sb.WriteString(string(last.Role))
		sb.WriteString(" turn: ")
		sb.WriteString(truncate(last.Content, excerptRunes))
		sb.WriteString("\n")
	}

	return truncate(sb.String(), maxRunes)
}

// recentUserTopics returns up to maxTopics snippets of the latest
// user messages, oldest first, excluding the most recent message
// (which gets its own longer excerpt).
func recentUserTopics(history []*store.Message) []string {
	var topics []string
	for i := len(history) - 2; i >= 0 && len(topics) < maxTopics; i-- {
		msg := history[i]
		if msg == nil || msg.Role != store.MessageRoleUser || msg.Content == "" {
			continue
		}
		topics = append(topics, truncate(msg.Content, topicRunes))
	}

	// Collected newest-first; present oldest-first.
	for i, j := 0, len(topics)-1; i < j; i, j = i+1, j-1 {
		topics[i], topics[j] = topics[j], topics[i]
	}
	return topics
}

func lastMessage(history []*store.Message) *store.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != nil && history[i].Content != "" {
			return history[i]
		}
	}
	return nil
}

// truncate caps s at n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}
