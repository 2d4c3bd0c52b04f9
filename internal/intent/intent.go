// Package intent turns raw inbound payloads into workflow signals.
//
// It never guesses intent from free text beyond two explicit shortcuts: an
// echoed correlation code and a body that starts like a local mobile number.
package intent

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"techentry-bot/internal/phone"
)

// Interactive reply ids.
const (
	ButtonUnknown    = "btn_unknown"
	ButtonRedirect   = "btn_redirect"
	ButtonFollowup1d = "btn_followup_1d"
	ButtonFollowup3d = "btn_followup_3d"
	ButtonFollowup7d = "btn_followup_7d"

	timeOptionPrefix = "time_"
)

var followupDelays = map[string]int{
	ButtonFollowup1d: 1,
	ButtonFollowup3d: 3,
	ButtonFollowup7d: 7,
}

// FollowupDelayButtons lists the delay choices in display order.
var FollowupDelayButtons = []string{ButtonFollowup1d, ButtonFollowup3d, ButtonFollowup7d}

// Correlation codes.
const (
	CodeLength   = 4
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLabel    = "Confirmation code"
)

var codePattern = regexp.MustCompile(`(?i)(?:קוד\s*אישור|confirmation\s*code|code)\s*[:：]\s*([A-Z0-9]{4})\b`)

// ExtractCode returns the upper-cased correlation code echoed in body, if any.
func ExtractCode(body string) (string, bool) {
	m := codePattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// NewCorrelationCode returns a random code from an alphabet without
// look-alike characters (no 0/O, 1/I).
func NewCorrelationCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("intent: correlation code: %w", err)
	}
	out := make([]byte, CodeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// CodeLine is the line embedded in the opening prompt.
func CodeLine(code string) string {
	return CodeLabel + ": " + code
}

// TimeOptionID encodes a wall-clock choice as a list row id.
func TimeOptionID(hour, minute int) string {
	return fmt.Sprintf("%s%02d_%02d", timeOptionPrefix, hour, minute)
}

// ParseTimeOptionID decodes "time_HH_MM" into "HH:MM".
func ParseTimeOptionID(id string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), timeOptionPrefix)
	if !ok {
		return "", false
	}
	hh, mm, ok := strings.Cut(rest, "_")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return "", false
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

// Kind classifies an inbound message.
type Kind string

const (
	KindNone          Kind = "none"
	KindTimeSelected  Kind = "time_selected"
	KindUnknown       Kind = "unknown"
	KindFollowupDelay Kind = "followup_delay"
	KindRedirect      Kind = "redirect"
	KindContact       Kind = "contact"
)

// Inbound is the transport-neutral view of an inbound message.
type Inbound struct {
	Body         string
	OptionID     string
	ButtonID     string
	HasContact   bool
	ContactName  string
	ContactPhone string
}

// Signal is what the workflow acts on.
type Signal struct {
	Kind      Kind
	Time      string
	DelayDays int

	// Contact fields are set for KindContact; ContactPhone is raw input.
	ContactName  string
	ContactPhone string
	FromText     bool
}

// Summary is the short tag logged for the inbound message.
func (s Signal) Summary() string {
	switch s.Kind {
	case KindTimeSelected:
		return "time_selected=" + s.Time
	case KindFollowupDelay:
		return "followup_delay=" + strconv.Itoa(s.DelayDays) + "d"
	case KindUnknown:
		return "unknown_clicked"
	case KindRedirect:
		return "redirect_clicked"
	case KindContact:
		if s.FromText {
			return "contact_text"
		}
		return "contact_card"
	}
	return "unhandled_incoming"
}

// Classify decides which signal an inbound message carries.
// Structured replies win over contact payloads, which win over free text.
func Classify(in Inbound) Signal {
	for _, id := range []string{in.OptionID, in.ButtonID} {
		if t, ok := ParseTimeOptionID(id); ok {
			return Signal{Kind: KindTimeSelected, Time: t}
		}
	}

	switch in.ButtonID {
	case ButtonUnknown:
		return Signal{Kind: KindUnknown}
	case ButtonRedirect:
		return Signal{Kind: KindRedirect}
	}
	if days, ok := followupDelays[in.ButtonID]; ok {
		return Signal{Kind: KindFollowupDelay, DelayDays: days}
	}

	if in.HasContact || in.ContactPhone != "" {
		p := in.ContactPhone
		if p == "" {
			p = ParseVCardPhone(in.Body)
		}
		return Signal{Kind: KindContact, ContactName: strings.TrimSpace(in.ContactName), ContactPhone: p}
	}

	body := strings.TrimSpace(in.Body)
	if phone.LooksLikeLocalMobile(body) {
		return Signal{Kind: KindContact, ContactPhone: body, FromText: true}
	}
	return Signal{Kind: KindNone}
}

// ParseVCardPhone returns the first TEL value of a vCard body.
func ParseVCardPhone(card string) string {
	for _, line := range strings.Split(card, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "TEL") {
			continue
		}
		if _, v, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
