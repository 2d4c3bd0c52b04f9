package messaging

import (
	"net/http"
	"strings"

	"techentry-bot/internal/intent"
)

// InboundForm captures the subset of WhatsApp webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
//
// Keep it minimal and provider-adapter-only.
// Workflow decisions are not made here.
type InboundForm struct {
	MessageSID  string
	AccountSID  string
	From        string
	To          string
	Body        string
	ProfileName string

	// Interactive replies.
	ButtonID string
	ListID   string

	// Shared contact card.
	AttachedContacts string
	ContactName      string
	ContactPhone     string
	NumMedia         string

	// Delivery-status callbacks.
	MessageStatus string
	ErrorCode     string
	ErrorMessage  string
}

func ParseInboundForm(r *http.Request) (InboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundForm{}, err
	}
	v := func(keys ...string) string {
		for _, k := range keys {
			if s := strings.TrimSpace(r.PostFormValue(k)); s != "" {
				return s
			}
		}
		return ""
	}
	return InboundForm{
		MessageSID:       v("MessageSid", "SmsMessageSid", "SmsSid"),
		AccountSID:       v("AccountSid"),
		From:             v("From"),
		To:               v("To"),
		Body:             strings.TrimSpace(r.PostFormValue("Body")),
		ProfileName:      v("ProfileName"),
		ButtonID:         v("ButtonPayload", "ButtonReplyId"),
		ListID:           v("ListReplyId", "ListId"),
		AttachedContacts: v("AttachedContacts"),
		ContactName:      v("ContactName"),
		ContactPhone:     v("ContactPhone"),
		NumMedia:         v("NumMedia"),
		MessageStatus:    strings.ToLower(v("MessageStatus", "SmsStatus")),
		ErrorCode:        v("ErrorCode"),
		ErrorMessage:     v("ErrorMessage"),
	}, nil
}

// HasContact reports whether a contact card was shared.
func (f InboundForm) HasContact() bool {
	return f.AttachedContacts != "" || f.ContactPhone != ""
}

// IsStatusCallback reports whether the payload is a delivery-status update
// rather than a message from the contact.
func (f InboundForm) IsStatusCallback() bool {
	if f.MessageStatus == "" {
		return false
	}
	if f.MessageStatus == "received" {
		return false
	}
	return f.Body == "" && f.ButtonID == "" && f.ListID == "" && !f.HasContact()
}

// Inbound converts the form to the transport-neutral classifier input.
func (f InboundForm) Inbound() intent.Inbound {
	body := f.Body
	if body == "" && strings.HasPrefix(strings.ToUpper(strings.TrimSpace(f.AttachedContacts)), "BEGIN:VCARD") {
		body = f.AttachedContacts
	}
	return intent.Inbound{
		Body:         body,
		OptionID:     f.ListID,
		ButtonID:     f.ButtonID,
		HasContact:   f.HasContact(),
		ContactName:  f.ContactName,
		ContactPhone: f.ContactPhone,
	}
}

// DeliveryError is the error text stored with a failed delivery status.
func (f InboundForm) DeliveryError() string {
	switch {
	case f.ErrorCode != "" && f.ErrorMessage != "":
		return f.ErrorCode + ": " + f.ErrorMessage
	case f.ErrorCode != "":
		return f.ErrorCode
	}
	return f.ErrorMessage
}
