package spam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlacklistedDomainScoresAtThreshold(t *testing.T) {
	scorer := NewScorer(NewBlacklist("spam.example.com"))

	verdict := scorer.Score(Input{
		Sender:  "promo@spam.example.com",
		Subject: "hello",
	})

	// The blacklist weight alone lands exactly on the threshold, and
	// the boundary is inclusive.
	assert.Equal(t, Threshold, verdict.Score)
	assert.True(t, verdict.Spam)
	assert.Len(t, verdict.Reasons, 1)
	assert.Contains(t, verdict.Reasons[0], "blacklisted")
}

func TestScoreOnePointBelowThresholdIsClean(t *testing.T) {
	scorer := NewScorer(NewBlacklist())

	// Digit-run display name (15) + three finance hits (24) + three
	// promo hits (15) + long subject (5) accumulate exactly 59.
	verdict := scorer.Score(Input{
		Sender:     "a@b.example",
		SenderName: "Agent 12345678",
		Subject: "loan credit casino free discount sale " +
			strings.Repeat("x ", 60),
	})

	assert.Equal(t, 59, verdict.Score)
	assert.False(t, verdict.Spam)
}

func TestCategoryHitsAreCapped(t *testing.T) {
	scorer := NewScorer(NewBlacklist())

	verdict := scorer.Score(Input{
		Sender:  "a@b.example",
		Subject: "loan loan loan loan loan loan",
	})

	// Six finance hits count as three.
	assert.Equal(t, 3*8, verdict.Score)
	assert.False(t, verdict.Spam)
}

func TestCleanMessage(t *testing.T) {
	scorer := NewScorer(NewBlacklist("spam.example.com"))

	verdict := scorer.Score(Input{
		Sender:     "alice@corp.example",
		SenderName: "Alice Cooper",
		Subject:    "Quarterly report attached",
		Body:       "Please find the report attached.",
	})

	assert.Equal(t, 0, verdict.Score)
	assert.False(t, verdict.Spam)
	assert.Empty(t, verdict.Reasons)
}

func TestDisplayNameRules(t *testing.T) {
	scorer := NewScorer(NewBlacklist())

	verdict := scorer.Score(Input{
		Sender:     "bob@corp.example",
		SenderName: "bob@corp.example",
		Subject:    "hi",
	})
	assert.Equal(t, 15, verdict.Score)
	assert.Contains(t, verdict.Reasons[0], "raw address")

	verdict = scorer.Score(Input{
		Sender:     "x@y.example",
		SenderName: "=?utf-8?B?broken?=",
		Subject:    "hi",
	})
	assert.GreaterOrEqual(t, verdict.Score, 15)
	assert.Contains(t, verdict.Reasons[0], "encoding-failure")

	verdict = scorer.Score(Input{
		Sender:     "x@y.example",
		SenderName: "$$$!!!***",
		Subject:    "hi",
	})
	assert.GreaterOrEqual(t, verdict.Score, 15)
}

func TestReasonsEnumerateEveryFiredRuleInOrder(t *testing.T) {
	scorer := NewScorer(NewBlacklist("spam.example.com"))

	verdict := scorer.Score(Input{
		Sender:  "deals@spam.example.com",
		Subject: "free loan!!!! " + strings.Repeat("pad ", 40),
		Body:    "free free free loan casino bonus",
	})

	assert.True(t, verdict.Spam)
	// 60 blacklist + 8 finance + 5 promo + 5 length + 5 repetition + 10 body.
	assert.Equal(t, 93, verdict.Score)

	// Order: blacklist, categories in fixed order, length, repetition, body.
	assert.Len(t, verdict.Reasons, 6)
	assert.Contains(t, verdict.Reasons[0], "blacklisted")
	assert.Contains(t, verdict.Reasons[1], "finance")
	assert.Contains(t, verdict.Reasons[2], "promo")
	assert.Contains(t, verdict.Reasons[3], "long")
	assert.Contains(t, verdict.Reasons[4], "symbol")
	assert.Contains(t, verdict.Reasons[5], "body")
}

func TestBlacklistMutation(t *testing.T) {
	blacklist := NewBlacklist()
	scorer := NewScorer(blacklist)

	in := Input{Sender: "promo@bulk.example.net", Subject: "hello"}

	assert.False(t, scorer.Score(in).Spam)

	blacklist.Add("BULK.example.net")
	assert.True(t, blacklist.Contains("bulk.example.net"))
	assert.True(t, scorer.Score(in).Spam)

	blacklist.Remove("bulk.example.net")
	assert.False(t, scorer.Score(in).Spam)
}
