package messaging

import (
	"bytes"
	"encoding/xml"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Replies are sent through the REST API, so webhooks normally answer with an
// empty <Response/>.

type twimlResponse struct {
	XMLName xml.Name       `xml:"Response"`
	Verbs   []twimlMessage `xml:"Message,omitempty"`
}

type twimlMessage struct {
	Body string `xml:",chardata"`
}

// RenderTwiML renders an acknowledgement with optional inline replies.
func RenderTwiML(replies ...string) (string, error) {
	var r twimlResponse
	for _, body := range replies {
		if body == "" {
			continue
		}
		r.Verbs = append(r.Verbs, twimlMessage{Body: body})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
