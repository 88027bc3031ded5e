// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package digest_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/bootstrap"
	"github.com/tether-dev/tether/internal/digest"
	"github.com/tether-dev/tether/internal/store"
)

func msg(role store.MessageRole, content string) *store.Message {
	return &store.Message{Role: role, Content: content}
}

func TestBuild_EmptyInputsStillProduceDigest(t *testing.T) {
	out := digest.NewBuilder().Build(nil, bootstrap.InitState{})
	assert.NotEmpty(t, out)
	assert.Contains(t, out, "Resuming an existing conversation")
}

func TestBuild_IsDeterministic(t *testing.T) {
	history := []*store.Message{
		msg(store.MessageRoleUser, "first question"),
		msg(store.MessageRoleAssistant, "first answer"),
		msg(store.MessageRoleUser, "second question"),
	}
	init := bootstrap.InitState{
		Facts: map[string]string{"plan": "pro", "locale": "en-GB", "account": "acme"},
		Notes: []string{"prefers short answers"},
	}

	b := digest.NewBuilder()
	first := b.Build(history, init)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, b.Build(history, init), "digest must be stable across calls")
	}
}

func TestBuild_FactsAppearInSortedKeyOrder(t *testing.T) {
	out := digest.NewBuilder().Build(nil, bootstrap.InitState{
		Facts: map[string]string{"zone": "eu", "account": "acme", "locale": "en"},
	})

	account := strings.Index(out, "account")
	locale := strings.Index(out, "locale")
	zone := strings.Index(out, "zone")
	require.True(t, account >= 0 && locale >= 0 && zone >= 0)
	assert.Less(t, account, locale)
	assert.Less(t, locale, zone)
}

func TestBuild_RecentTopicsAreUserTurnsOldestFirst(t *testing.T) {
	var history []*store.Message
	for i := 1; i <= 8; i++ {
		history = append(history,
			msg(store.MessageRoleUser, fmt.Sprintf("question %d", i)),
			msg(store.MessageRoleAssistant, fmt.Sprintf("answer %d", i)),
		)
	}

	out := digest.NewBuilder().Build(history, bootstrap.InitState{})

	// Five most recent user turns, the oldest three dropped.
	assert.NotContains(t, out, "question 1")
	assert.NotContains(t, out, "question 3")
	for i := 4; i <= 8; i++ {
		assert.Contains(t, out, fmt.Sprintf("question %d", i))
	}
	assert.Less(t, strings.Index(out, "question 4"), strings.Index(out, "question 8"))

	// Assistant turns are not topics, but the last turn gets an excerpt.
	assert.Contains(t, out, "Most recent assistant turn: answer 8")
	assert.NotContains(t, out, "answer 7")
}

func TestBuild_LongContentIsTruncatedPerField(t *testing.T) {
	long := strings.Repeat("x", 1000)
	history := []*store.Message{
		msg(store.MessageRoleUser, long),
		msg(store.MessageRoleUser, long),
	}

	out := digest.NewBuilder().Build(history, bootstrap.InitState{})

	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "- ") {
			assert.LessOrEqual(t, utf8.RuneCountInString(line), 2+80)
		}
	}
	assert.LessOrEqual(t, utf8.RuneCountInString(out), 2000)
}

func TestBuild_TotalSizeIsBounded(t *testing.T) {
	var history []*store.Message
	for i := 0; i < 50; i++ {
		history = append(history, msg(store.MessageRoleUser, strings.Repeat("верба", 100)))
	}
	init := bootstrap.InitState{Facts: map[string]string{}, Notes: nil}
	for i := 0; i < 40; i++ {
		init.Notes = append(init.Notes, strings.Repeat("n", 200))
	}

	out := digest.NewBuilder().Build(history, init)
	assert.LessOrEqual(t, utf8.RuneCountInString(out), 2000)
	assert.True(t, utf8.ValidString(out), "truncation must never split a rune")
}

func TestBuild_SkipsEmptyAndNilMessages(t *testing.T) {
	history := []*store.Message{
		nil,
		msg(store.MessageRoleUser, ""),
		msg(store.MessageRoleUser, "real question"),
		nil,
	}

	out := digest.NewBuilder().Build(history, bootstrap.InitState{})
	assert.Contains(t, out, "real question")
}
