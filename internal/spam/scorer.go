package spam

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Threshold is the classification boundary: a message scoring at or
// above it is spam.
const Threshold = 60

// Rule weights.
const (
	weightBlacklistedDomain = 60
	weightDisplayNameRule   = 15
	weightLongSubject       = 5
	weightSymbolRepetition  = 5
	weightBodyKeywords      = 10

	maxHitsPerCategory = 3
	longSubjectRunes   = 120
	symbolRepeatRun    = 4
	digitRunLength     = 7
	bodyKeywordFloor   = 5
)

// keywordCategory is a weighted group of subject/body keywords.
type keywordCategory struct {
	name     string
	perHit   int
	keywords []string
}

var categories = []keywordCategory{
	{name: "finance", perHit: 8, keywords: []string{
		"loan", "credit", "casino", "jackpot", "bitcoin", "investment", "lottery", "winner",
	}},
	{name: "adult", perHit: 8, keywords: []string{
		"adult", "dating", "viagra", "xxx",
	}},
	{name: "promo", perHit: 5, keywords: []string{
		"free", "discount", "sale", "offer", "limited", "deal", "bonus",
	}},
	{name: "urgency", perHit: 4, keywords: []string{
		"urgent", "act now", "expires", "last chance", "immediately",
	}},
}

// Input is the scorable view of a message: sender, subject and body.
type Input struct {
	Sender     string
	SenderName string
	Subject    string
	Body       string
}

// Verdict is the scoring result. Reasons enumerates every rule that
// fired, in evaluation order, for audit and debugging.
type Verdict struct {
	Spam    bool     `json:"spam"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// Scorer classifies messages against an injected blacklist. Scoring is
// a pure function of the input; the scorer holds no other state.
type Scorer struct {
	blacklist *Blacklist
}

// NewScorer creates a scorer backed by the given blacklist
func NewScorer(blacklist *Blacklist) *Scorer {
	return &Scorer{blacklist: blacklist}
}

// Score computes the weighted spam score for a message and classifies
// it against the fixed threshold.
func (s *Scorer) Score(in Input) Verdict {
	score := 0
	var reasons []string

	if domain := senderDomain(in.Sender); domain != "" && s.blacklist.Contains(domain) {
		score += weightBlacklistedDomain
		reasons = append(reasons, fmt.Sprintf("sender domain %q is blacklisted", domain))
	}

	score, reasons = scoreDisplayName(in, score, reasons)

	subject := strings.ToLower(in.Subject)
	for _, category := range categories {
		hits := countHits(subject, category.keywords, maxHitsPerCategory)
		if hits > 0 {
			score += hits * category.perHit
			reasons = append(reasons, fmt.Sprintf("subject has %d %s keyword hit(s)", hits, category.name))
		}
	}

	if utf8.RuneCountInString(in.Subject) > longSubjectRunes {
		score += weightLongSubject
		reasons = append(reasons, "subject is excessively long")
	}

	if hasSymbolRepetition(in.Subject) {
		score += weightSymbolRepetition
		reasons = append(reasons, "subject repeats the same symbol excessively")
	}

	body := strings.ToLower(in.Body)
	bodyHits := 0
	for _, category := range categories {
		bodyHits += countHits(body, category.keywords, 0)
	}
	if bodyHits >= bodyKeywordFloor {
		score += weightBodyKeywords
		reasons = append(reasons, fmt.Sprintf("body has %d category keyword hits", bodyHits))
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return Verdict{Spam: score >= Threshold, Score: score, Reasons: reasons}
}

// scoreDisplayName applies the suspicious display-name rules, each
// contributing a medium weight.
func scoreDisplayName(in Input, score int, reasons []string) (int, []string) {
	name := strings.TrimSpace(in.SenderName)
	if name == "" {
		return score, reasons
	}

	if strings.Contains(name, "=?") || strings.Contains(name, "?=") || strings.ContainsRune(name, utf8.RuneError) {
		score += weightDisplayNameRule
		reasons = append(reasons, "sender display name contains encoding-failure markers")
	}

	if symbolDensity(name) >= 0.4 {
		score += weightDisplayNameRule
		reasons = append(reasons, "sender display name has excessive symbol density")
	}

	if longestDigitRun(name) >= digitRunLength {
		score += weightDisplayNameRule
		reasons = append(reasons, "sender display name contains a long digit run")
	}

	if strings.EqualFold(name, strings.TrimSpace(in.Sender)) {
		score += weightDisplayNameRule
		reasons = append(reasons, "sender display name is a raw address")
	}

	return score, reasons
}

// countHits counts keyword occurrences in text, capped at limit counted
// hits when limit > 0.
func countHits(text string, keywords []string, limit int) int {
	hits := 0
	for _, keyword := range keywords {
		hits += strings.Count(text, keyword)
	}
	if limit > 0 && hits > limit {
		hits = limit
	}
	return hits
}

// senderDomain extracts the domain part of an address
func senderDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// symbolDensity is the share of runes that are neither letters, digits
// nor spaces.
func symbolDensity(s string) float64 {
	total, symbols := 0, 0
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			symbols++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(symbols) / float64(total)
}

// longestDigitRun returns the length of the longest consecutive digit
// sequence.
func longestDigitRun(s string) int {
	longest, run := 0, 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest
}

// hasSymbolRepetition reports whether the same symbol repeats in an
// unbroken run (e.g. "!!!!").
func hasSymbolRepetition(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev && !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			run++
			if run >= symbolRepeatRun {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}
