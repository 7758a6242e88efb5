package slackclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func sign(secret, ts, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + ts + ":" + body))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureEmptySecretDisablesCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := VerifySignature([]byte("body"), req, ""); err != nil {
		t.Fatalf("expected nil error with empty secret, got %v", err)
	}
}

func TestVerifySignatureAcceptsValidSignature(t *testing.T) {
	secret := "shh"
	body := `{"type":"url_verification"}`
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sign(secret, ts, body))
	if err := VerifySignature([]byte(body), req, secret); err != nil {
		t.Fatalf("expected valid signature to pass, got %v", err)
	}
}

func TestVerifySignatureRejectsBadSignature(t *testing.T) {
	secret := "shh"
	body := `{"type":"url_verification"}`
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	if err := VerifySignature([]byte(body), req, secret); err == nil {
		t.Fatal("expected bad signature to be rejected")
	}
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	secret := "shh"
	body := `{"type":"url_verification"}`
	old := time.Now().Add(-10 * time.Minute)
	ts := strconv.FormatInt(old.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sign(secret, ts, body))
	if err := VerifySignature([]byte(body), req, secret); err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
}

func TestServeHTTPAnswersURLVerification(t *testing.T) {
	h := &EventsHandler{}
	body := `{"type":"url_verification","challenge":"abc123"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "abc123") {
		t.Fatalf("expected challenge echoed back, got %s", w.Body.String())
	}
}

func TestServeHTTPNormalizesAndDispatchesMessageEvent(t *testing.T) {
	var got InboundEvent
	h := &EventsHandler{
		BotUserID: "BBOT",
		Handle:    func(in InboundEvent) { got = in },
	}
	body := `{"type":"event_callback","event":{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1.0"}}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.Channel != "C1" || got.User != "U1" || got.Text != "hi" {
		t.Fatalf("unexpected normalized event: %+v", got)
	}
}

func TestNormalizeRawEventKeepsBotMessagesWithBotID(t *testing.T) {
	event := map[string]any{"type": "message", "channel": "C1", "user": "U1", "text": "hi", "bot_id": "B1"}
	in, ok := normalizeRawEvent(event, "BBOT")
	if !ok {
		t.Fatal("normalizeRawEvent should still classify the event")
	}
	if in.BotID != "B1" {
		t.Fatalf("expected bot_id to be carried through for the caller to filter, got %q", in.BotID)
	}
}
