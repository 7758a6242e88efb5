package slackclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// VerifySignature checks the X-Slack-Signature / X-Slack-Request-Timestamp
// headers against body using the v0 HMAC-SHA256 scheme, rejecting
// requests outside a 5-minute replay window. An empty secret disables
// verification, matching the teacher's verifySlackSignature
// (cmd/channelbridge/main.go), which is the sole behavior this function
// is grounded on.
func VerifySignature(body []byte, r *http.Request, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	ts := strings.TrimSpace(r.Header.Get("X-Slack-Request-Timestamp"))
	sig := strings.TrimSpace(r.Header.Get("X-Slack-Signature"))
	if ts == "" || sig == "" {
		return errors.New("slackclient: missing signature headers")
	}
	tsNum, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return err
	}
	if delta := time.Since(time.Unix(tsNum, 0)); delta > ReplayDelay || delta < -ReplayDelay {
		return errors.New("slackclient: signature timestamp out of range")
	}
	base := "v0:" + ts + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(base))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errors.New("slackclient: signature mismatch")
	}
	return nil
}

// EventsHandler is the Events API HTTP fallback described in spec.md §6,
// for deployments that cannot hold a Socket Mode connection open.
// url_verification challenges are answered directly; event_callback
// payloads are normalized and handed to handle.
type EventsHandler struct {
	SigningSecret string
	BotUserID     string
	Handle        func(InboundEvent)
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if err := VerifySignature(body, r, h.SigningSecret); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	switch asString(payload["type"]) {
	case "url_verification":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"challenge": asString(payload["challenge"])})
		return
	case "event_callback":
		event, _ := payload["event"].(map[string]any)
		if event != nil {
			if in, ok := normalizeRawEvent(event, h.BotUserID); ok && h.Handle != nil {
				h.Handle(in)
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

func normalizeRawEvent(event map[string]any, botUserID string) (InboundEvent, bool) {
	eventType := strings.TrimSpace(asString(event["type"]))
	if eventType == "app_mention" {
		channel := strings.TrimSpace(asString(event["channel"]))
		user := strings.TrimSpace(asString(event["user"]))
		if channel == "" || user == "" {
			return InboundEvent{}, false
		}
		return InboundEvent{
			Channel:      channel,
			User:         user,
			Text:         asString(event["text"]),
			MessageTS:    asString(event["event_ts"]),
			ThreadTS:     asString(event["thread_ts"]),
			ChannelType:  "channel",
			IsAppMention: true,
		}, true
	}
	if eventType != "message" {
		return InboundEvent{}, false
	}
	channel := strings.TrimSpace(asString(event["channel"]))
	user := strings.TrimSpace(asString(event["user"]))
	if channel == "" || user == "" {
		return InboundEvent{}, false
	}
	return InboundEvent{
		Channel:     channel,
		User:        user,
		Text:        asString(event["text"]),
		MessageTS:   asString(event["ts"]),
		ThreadTS:    asString(event["thread_ts"]),
		Subtype:     asString(event["subtype"]),
		BotID:       asString(event["bot_id"]),
		ChannelType: strings.ToLower(asString(event["channel_type"])),
	}, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
