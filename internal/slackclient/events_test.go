package slackclient

import (
	"testing"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

func newTestListener(t *testing.T) *Listener {
	t.Helper()
	l, err := NewListener("xoxb-test", "xapp-test", "", nil)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	return l
}

func TestDispatchMessageEventNormalizesFields(t *testing.T) {
	l := newTestListener(t)
	var got InboundEvent
	var calls int

	l.dispatch(socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{
					Channel:         "C1",
					User:            "U1",
					Text:            "hello there",
					TimeStamp:       "1.0",
					ThreadTimeStamp: "0.5",
					SubType:         "",
					ChannelType:     "channel",
				},
			},
		},
	}, func(evt InboundEvent) {
		calls++
		got = evt
	})

	if calls != 1 {
		t.Fatalf("expected handle called once, got %d", calls)
	}
	if got.Channel != "C1" || got.User != "U1" || got.Text != "hello there" {
		t.Fatalf("unexpected normalized event: %+v", got)
	}
	if got.MessageTS != "1.0" || got.ThreadTS != "0.5" {
		t.Fatalf("unexpected timestamps: %+v", got)
	}
	if got.IsAppMention {
		t.Fatal("plain message should not be flagged as a mention")
	}
}

func TestDispatchAppMentionEventSetsIsAppMention(t *testing.T) {
	l := newTestListener(t)
	var got InboundEvent
	var calls int

	l.dispatch(socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.AppMentionEvent{
					Channel:   "C2",
					User:      "U2",
					Text:      "<@BBOT> help",
					TimeStamp: "2.0",
				},
			},
		},
	}, func(evt InboundEvent) {
		calls++
		got = evt
	})

	if calls != 1 {
		t.Fatalf("expected handle called once, got %d", calls)
	}
	if !got.IsAppMention {
		t.Fatal("expected IsAppMention to be set")
	}
	if got.Channel != "C2" || got.MessageTS != "2.0" {
		t.Fatalf("unexpected normalized event: %+v", got)
	}
}

func TestDispatchIgnoresNonCallbackEventsAPIPayload(t *testing.T) {
	l := newTestListener(t)
	calls := 0

	l.dispatch(socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: "url_verification",
		},
	}, func(evt InboundEvent) { calls++ })

	if calls != 0 {
		t.Fatalf("expected no dispatch for a non-callback payload, got %d", calls)
	}
}

func TestDispatchDefaultCaseDoesNotPanic(t *testing.T) {
	l := newTestListener(t)
	calls := 0

	l.dispatch(socketmode.Event{Type: socketmode.EventTypeConnecting}, func(evt InboundEvent) { calls++ })

	if calls != 0 {
		t.Fatalf("expected connecting events to be ignored, got %d calls", calls)
	}
}
