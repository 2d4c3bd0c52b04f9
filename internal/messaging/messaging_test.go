package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"techentry-bot/internal/intent"
)

func formRequest(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestComputeSignature_TwilioReferenceVector(t *testing.T) {
	// Example from Twilio's webhook security documentation.
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	got := ComputeSignature("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params)
	if got != "0/KCTR6DLpKmkAf8muzZqo1nDgQ=" {
		t.Fatalf("unexpected signature %q", got)
	}
}

func TestValidateSignature(t *testing.T) {
	params := url.Values{"Body": {"hi"}, "From": {"whatsapp:+972501234567"}}
	sig := ComputeSignature("secret", "https://bot.example.com/twilio/webhook", params)

	if err := ValidateSignature("secret", "https://bot.example.com/twilio/webhook", params, sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := ValidateSignature("other", "https://bot.example.com/twilio/webhook", params, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if err := ValidateSignature("", "https://bot.example.com/twilio/webhook", params, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected empty token to reject")
	}
}

func TestParseInboundForm(t *testing.T) {
	r := formRequest("/twilio/webhook", url.Values{
		"SmsMessageSid": {"SM1"},
		"From":          {"whatsapp:+972501234567"},
		"ListId":        {"time_14_30"},
		"Body":          {" 14:30 "},
	})
	f, err := ParseInboundForm(r)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.MessageSID != "SM1" || f.ListID != "time_14_30" || f.Body != "14:30" {
		t.Fatalf("unexpected form: %+v", f)
	}
	if f.IsStatusCallback() {
		t.Fatalf("message with body is not a status callback")
	}
	if sig := intent.Classify(f.Inbound()); sig.Kind != intent.KindTimeSelected || sig.Time != "14:30" {
		t.Fatalf("unexpected signal %+v", sig)
	}

	status := InboundForm{MessageSID: "SM2", MessageStatus: "undelivered", ErrorCode: "63016"}
	if !status.IsStatusCallback() || status.DeliveryError() != "63016" {
		t.Fatalf("expected status callback: %+v", status)
	}
	if (InboundForm{MessageStatus: "received", Body: ""}).IsStatusCallback() {
		t.Fatalf("received status is an inbound message")
	}
}

func TestTwilioClient_Send(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/2010-04-01/Accounts/AC1/Messages.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		got, _ = url.ParseQuery(string(raw))
		if got.Get("To") == "whatsapp:+10000000000" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	c, err := NewTwilioClient(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "whatsapp:+14155238886", APIBase: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	msgs := InitialSequence("whatsapp:+972501234567", PromptData{ShowName: "Show", Code: "AB2K"})
	res, err := c.Send(context.Background(), msgs[1])
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.MessageID != "SM42" || res.Status != "queued" {
		t.Fatalf("unexpected result %+v", res)
	}
	var in Interactive
	if err := json.Unmarshal([]byte(got.Get("Interactive")), &in); err != nil || in.Type != InteractiveList {
		t.Fatalf("expected interactive list payload, got %q err=%v", got.Get("Interactive"), err)
	}
	if got.Get("From") != "whatsapp:+14155238886" || got.Get("Body") == "" {
		t.Fatalf("unexpected form %v", got)
	}

	_, err = c.Send(context.Background(), OutboundMessage{To: "whatsapp:+10000000000", Body: "x"})
	var se *SendError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest || se.Code != "21211" {
		t.Fatalf("expected SendError with vendor code, got %v", err)
	}

	if _, err := NewTwilioClient(TwilioConfig{}, nil); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestTemplates(t *testing.T) {
	msgs := InitialSequence("whatsapp:+972501234567", PromptData{ContactName: "Dana", ShowName: "Show", EventDate: "2026-03-01", ShowTime: "20:00", Code: "AB2K"})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	kinds := []string{KindTemplateOpen, KindInteractiveList, KindMetaButtons}
	for i, k := range kinds {
		if msgs[i].Kind != k {
			t.Fatalf("message %d: expected %s, got %s", i, k, msgs[i].Kind)
		}
	}
	if code, ok := intent.ExtractCode(msgs[0].Body); !ok || code != "AB2K" {
		t.Fatalf("expected code in opening prompt: %q", msgs[0].Body)
	}
	if len(FollowupSequence("x", PromptData{})) != 2 {
		t.Fatalf("expected 2 follow-up messages")
	}

	sections := TimeSections()
	if len(sections) != 7 || len(sections[0].Rows) != 4 {
		t.Fatalf("unexpected sections: %d", len(sections))
	}
	last := sections[6].Rows[3]
	if last.ID != "time_19_30" || last.Title != "19:30" {
		t.Fatalf("unexpected last row %+v", last)
	}
	if b := DelayChoice("x").Interactive.Buttons; len(b) != 3 || b[0].ID != intent.ButtonFollowup1d {
		t.Fatalf("unexpected delay buttons %+v", b)
	}
}

func TestRenderTwiML(t *testing.T) {
	xml, err := RenderTwiML()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "<Response") || strings.Contains(xml, "<Message") {
		t.Fatalf("expected empty response: %s", xml)
	}
	xml, _ = RenderTwiML("thanks")
	if !strings.Contains(xml, "<Message>thanks</Message>") {
		t.Fatalf("expected inline message: %s", xml)
	}
}

type stubProcessor struct {
	inbound, status int
	err             error
}

func (s *stubProcessor) HandleInbound(ctx context.Context, f InboundForm) error {
	s.inbound++
	return s.err
}

func (s *stubProcessor) HandleStatusCallback(ctx context.Context, f InboundForm) error {
	s.status++
	return s.err
}

func TestWebhook_SignatureAndAck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	proc := &stubProcessor{err: errors.New("store down")}
	r := gin.New()
	r.POST("/twilio/webhook", RequireSignature("secret", "https://bot.example.com"), WebhookHandler{Processor: proc}.Handle)

	form := url.Values{"MessageSid": {"SM1"}, "From": {"whatsapp:+972501234567"}, "Body": {"hello"}}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/twilio/webhook", form))
	if w.Code != http.StatusForbidden || proc.inbound != 0 {
		t.Fatalf("expected 403 without signature, got %d (inbound=%d)", w.Code, proc.inbound)
	}

	req := formRequest("/twilio/webhook", form)
	req.Header.Set(SignatureHeader, ComputeSignature("secret", "https://bot.example.com/twilio/webhook", form))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || proc.inbound != 1 {
		t.Fatalf("expected 200 ack even on processing error, got %d (inbound=%d)", w.Code, proc.inbound)
	}
	if !strings.Contains(w.Body.String(), "<Response") {
		t.Fatalf("expected TwiML ack: %s", w.Body.String())
	}

	status := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	req = formRequest("/twilio/webhook", status)
	req.Header.Set(SignatureHeader, ComputeSignature("secret", "https://bot.example.com/twilio/webhook", status))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || proc.status != 1 {
		t.Fatalf("expected status callback routed, got %d (status=%d)", w.Code, proc.status)
	}
}
