// Package twitch turns Twitch chat events into TTS requests.
package twitch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/book-expert/stream-tts/internal/audit"
	"github.com/book-expert/stream-tts/internal/orchestrator"
)

// IRC tags read by the classifiers.
const (
	tagBits        = "bits"
	tagRewardID    = "custom-reward-id"
	tagMsgID       = "msg-id"
	tagDisplayName = "display-name"
	tagLogin       = "login"
)

// USERNOTICE kinds that announce a subscription.
var subscriptionNotices = map[string]struct{}{
	"sub":   {},
	"resub": {},
}

// cheermotePattern matches cheer tokens such as "Cheer100" or "Kappa50".
var cheermotePattern = regexp.MustCompile(`^[A-Za-z]+[0-9]+$`)

// Rules decide which chat events become requests.
type Rules struct {
	RewardID    string
	BitsMinimum int
	CharLimit   int
}

// ClassifyChat turns a chat message into a request when it is a cheer of at
// least BitsMinimum bits or a redemption of the configured reward.
func ClassifyChat(tags map[string]string, displayName, text string, rules Rules) (orchestrator.Request, bool) {
	if rules.RewardID != "" && tags[tagRewardID] == rules.RewardID {
		return newRequest(tags, displayName, strings.TrimSpace(text), audit.SourceRedeem, rules), true
	}

	bits, err := strconv.Atoi(tags[tagBits])
	if err != nil || bits <= 0 || bits < rules.BitsMinimum {
		return orchestrator.Request{}, false
	}

	spoken := StripCheermotes(text)
	if spoken == "" {
		return orchestrator.Request{}, false
	}

	return newRequest(tags, displayName, spoken, audit.SourceBits, rules), true
}

// ClassifyNotice turns a subscription notice with a message into a request.
func ClassifyNotice(tags map[string]string, displayName, text string, rules Rules) (orchestrator.Request, bool) {
	if _, ok := subscriptionNotices[tags[tagMsgID]]; !ok {
		return orchestrator.Request{}, false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return orchestrator.Request{}, false
	}

	return newRequest(tags, displayName, text, audit.SourceSubscription, rules), true
}

// StripCheermotes removes cheer tokens and collapses whitespace.
func StripCheermotes(text string) string {
	words := strings.Fields(text)
	kept := words[:0]

	for _, word := range words {
		if cheermotePattern.MatchString(word) {
			continue
		}

		kept = append(kept, word)
	}

	return strings.Join(kept, " ")
}

func newRequest(tags map[string]string, displayName, text string, source audit.Source, rules Rules) orchestrator.Request {
	return orchestrator.Request{
		Text:      text,
		Username:  username(tags, displayName),
		Source:    source,
		CharLimit: rules.CharLimit,
		AuditID:   nil,
	}
}

func username(tags map[string]string, displayName string) string {
	for _, name := range []string{displayName, tags[tagDisplayName], tags[tagLogin]} {
		if name != "" {
			return name
		}
	}

	return "unknown"
}
