package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTwilioAPIBase = "https://api.twilio.com"

// TwilioConfig holds the credentials and sender address of a Twilio account.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // "whatsapp:+1415..."
	APIBase    string

	// StatusCallback receives delivery-status updates when set.
	StatusCallback string
}

// TwilioClient sends WhatsApp messages through the Twilio Messages REST API.
type TwilioClient struct {
	cfg  TwilioConfig
	http *http.Client
}

func NewTwilioClient(cfg TwilioConfig, httpClient *http.Client) (*TwilioClient, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("messaging: twilio account sid, auth token and from are required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultTwilioAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TwilioClient{cfg: cfg, http: httpClient}, nil
}

func (c *TwilioClient) Name() string { return "twilio" }

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts one message. Interactive payloads travel as JSON in the
// "Interactive" form field alongside a plain-text fallback body.
func (c *TwilioClient) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	form := url.Values{}
	form.Set("From", c.cfg.From)
	form.Set("To", msg.To)
	if c.cfg.StatusCallback != "" {
		form.Set("StatusCallback", c.cfg.StatusCallback)
	}
	body := msg.Body
	if msg.Interactive != nil {
		raw, err := json.Marshal(msg.Interactive)
		if err != nil {
			return SendResult{}, &SendError{Provider: c.Name(), Err: err}
		}
		form.Set("Interactive", string(raw))
		if body == "" {
			body = msg.Interactive.Body
		}
	}
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.cfg.APIBase, url.PathEscape(c.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, &SendError{Provider: c.Name(), Err: err}
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{}, &SendError{Provider: c.Name(), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, &SendError{Provider: c.Name(), StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 300 {
		var te twilioError
		_ = json.Unmarshal(raw, &te)
		se := &SendError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: te.Message}
		if te.Code != 0 {
			se.Code = fmt.Sprint(te.Code)
		}
		if se.Message == "" {
			se.Message = http.StatusText(resp.StatusCode)
		}
		return SendResult{}, se
	}

	var m twilioMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return SendResult{}, &SendError{Provider: c.Name(), StatusCode: resp.StatusCode, Err: err}
	}
	if m.SID == "" {
		return SendResult{}, &SendError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: "missing message sid"}
	}
	return SendResult{MessageID: m.SID, Status: m.Status}, nil
}
