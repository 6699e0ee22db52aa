// Package classify implements the blended rule/LLM lead scoring pipeline.
package classify

import (
	"regexp"
	"strings"
)

// =============================================================================
// Rule Scorer
// =============================================================================

// RuleScoreMax bounds the deterministic component of the blend. The rule
// score never escapes [0, RuleScoreMax] regardless of how many signals fire.
const RuleScoreMax = 60

// Signal weights.
const (
	weightIntent       = 25
	weightPhone        = 15
	weightPrice        = 10
	weightAddress      = 10
	weightPortal       = 15
	penaltyUnsubscribe = 25
)

// Signal names reported alongside the score.
const (
	SignalIntent      = "intent"
	SignalPhone       = "phone"
	SignalPrice       = "price"
	SignalAddress     = "address"
	SignalPortal      = "portal"
	SignalUnsubscribe = "unsubscribe"
)

var (
	intentRe = regexp.MustCompile(`(?i)\b(tour|showing|schedule|scheduling|viewing|open house|offer|pre[- ]?approv\w*|appointment|interested in|budget|looking to (buy|sell|rent)|see the (house|home|property))\b`)
	phoneRe  = regexp.MustCompile(`(\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}`)
	priceRe  = regexp.MustCompile(`(?i)\$\s?\d{1,3}(,\d{3})+(\.\d+)?|\$\s?\d+(\.\d+)?\s?[km]\b|\b\d{3,4}k\b`)
	addrRe   = regexp.MustCompile(`(?i)\b\d{1,6}\s+(?:[A-Za-z][A-Za-z0-9'.\-]*\s+){1,4}(street|st|avenue|ave|road|rd|drive|dr|lane|ln|boulevard|blvd|court|ct|place|pl|way|circle|cir|terrace|ter)\b`)
	unsubRe  = regexp.MustCompile(`(?i)unsubscribe|opt[- ]?out|email preferences|manage (your )?preferences|marketing preferences|view (this email )?in (your )?browser`)
)

// portalDomains are known real-estate lead portals. A sender from one of
// these is a strong lead signal even when the body is templated.
var portalDomains = []string{
	"zillow.com",
	"realtor.com",
	"trulia.com",
	"redfin.com",
	"homes.com",
	"apartments.com",
	"streeteasy.com",
	"homesnap.com",
}

// RuleScore computes the deterministic heuristic score for a message. Pure
// and synchronous: same input always yields the same score and signal set.
// The result is clamped to [0, RuleScoreMax].
func RuleScore(subject, body, fromEmail string, headers map[string]string) (int, []string) {
	text := subject + "\n" + body
	score := 0
	var signals []string

	if intentRe.MatchString(text) {
		score += weightIntent
		signals = append(signals, SignalIntent)
	}
	if phoneRe.MatchString(text) {
		score += weightPhone
		signals = append(signals, SignalPhone)
	}
	if priceRe.MatchString(text) {
		score += weightPrice
		signals = append(signals, SignalPrice)
	}
	if addrRe.MatchString(text) {
		score += weightAddress
		signals = append(signals, SignalAddress)
	}
	if matchesPortal(fromEmail, headers) {
		score += weightPortal
		signals = append(signals, SignalPortal)
	}
	if unsubRe.MatchString(text) || unsubRe.MatchString(headerBlob(headers)) {
		score -= penaltyUnsubscribe
		signals = append(signals, SignalUnsubscribe)
	}

	if score < 0 {
		score = 0
	}
	if score > RuleScoreMax {
		score = RuleScoreMax
	}
	return score, signals
}

func matchesPortal(fromEmail string, headers map[string]string) bool {
	from := strings.ToLower(fromEmail)
	blob := strings.ToLower(headerBlob(headers))
	for _, d := range portalDomains {
		if strings.HasSuffix(from, "@"+d) || strings.HasSuffix(from, "."+d) {
			return true
		}
		if strings.Contains(blob, d) {
			return true
		}
	}
	return false
}

func headerBlob(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return b.String()
}
