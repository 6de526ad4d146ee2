package domain

import "strings"

// KeySeparator joins the two sorted participant ids of a conversation key.
// Principal ids may not contain it.
const KeySeparator = "|"

// ConversationKey derives the canonical key of the conversation between a and
// b. The result does not depend on argument order.
func ConversationKey(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", Validation("participant id is required")
	}
	if strings.Contains(a, KeySeparator) || strings.Contains(b, KeySeparator) {
		return "", Validation("participant id contains a reserved character")
	}
	if a == b {
		return "", Validation("cannot start a conversation with yourself")
	}
	if b < a {
		a, b = b, a
	}
	return a + KeySeparator + b, nil
}

// Participants splits a conversation key into its two ids, lower one first.
func Participants(key string) (string, string, error) {
	a, b, ok := strings.Cut(key, KeySeparator)
	if !ok || a == "" || b == "" || a >= b || strings.Contains(b, KeySeparator) {
		return "", "", Validation("malformed conversation key")
	}
	return a, b, nil
}
