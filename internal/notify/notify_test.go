package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSlackNotifier_PostsWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	err = n.NotifyEscalation(context.Background(), Escalation{EventKey: "E3", ShowName: "Show", DaysLeft: 5})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	text, _ := got["text"].(string)
	if !strings.Contains(text, "E3") || !strings.Contains(text, "5 days") {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestSlackNotifier_ReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, _ := NewSlackNotifier(srv.URL, srv.Client())
	if err := n.NotifyEscalation(context.Background(), Escalation{EventKey: "E3"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewSlackNotifier("", nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if err := (Nop{}).NotifyEscalation(context.Background(), Escalation{}); err != nil {
		t.Fatalf("nop should never fail")
	}
}
