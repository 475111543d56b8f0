package models

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a system-originated message. Categories are advisory:
// an unknown value is tracked under CategorySystem rather than rejected.
type Category string

const (
	CategorySystem              Category = "system"
	CategoryMeetingConfirmation Category = "meeting_confirmation"
	CategoryPaymentConfirmation Category = "payment_confirmation"
	CategoryReminder            Category = "reminder"
	CategoryNotification        Category = "notification"
)

// ParseCategory maps a raw category string to a known category,
// defaulting to CategorySystem.
func ParseCategory(raw string) Category {
	switch Category(strings.TrimSpace(strings.ToLower(raw))) {
	case CategoryMeetingConfirmation:
		return CategoryMeetingConfirmation
	case CategoryPaymentConfirmation:
		return CategoryPaymentConfirmation
	case CategoryReminder:
		return CategoryReminder
	case CategoryNotification:
		return CategoryNotification
	default:
		return CategorySystem
	}
}

// NormalizeKey canonicalizes a phone-number conversation key: formatting
// punctuation is stripped and national-length numbers gain the 55 country
// prefix, so "+55 (11) 99999-9999" and "5511999999999" map to the same key.
func NormalizeKey(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", fmt.Errorf("conversation key %q contains no digits", raw)
	}
	if len(digits) == 10 || len(digits) == 11 {
		digits = "55" + digits
	}
	return digits, nil
}

// Fragment is one inbound user message awaiting coalescing.
type Fragment struct {
	MessageID  string    `json:"message_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// ActivityRecord is the most recent system-originated message for a key.
// Last write wins; there is at most one record per key at any time.
type ActivityRecord struct {
	Key      string    `json:"key"`
	Category Category  `json:"category"`
	SentAt   time.Time `json:"sent_at"`
}

// DelayDecision is the output of the delay engine. It is computed once, when
// a debounce window closes, and never revised afterwards.
type DelayDecision struct {
	Apply  bool          `json:"apply"`
	Delay  time.Duration `json:"delay"`
	Reason Category      `json:"reason,omitempty"`
}

// CoalescedUnit is one or more fragments joined into a single logical
// message, ready for the external pipeline.
type CoalescedUnit struct {
	ID            string        `json:"id"`
	Key           string        `json:"key"`
	Text          string        `json:"text"`
	FragmentCount int           `json:"fragment_count"`
	WindowClosed  time.Time     `json:"window_closed"`
	Delay         time.Duration `json:"delay"`
	DelayReason   Category      `json:"delay_reason,omitempty"`
}
