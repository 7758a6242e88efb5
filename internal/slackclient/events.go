package slackclient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// InboundEvent is a normalized DM or mention event handed to intake, per
// spec.md §4.D. It carries enough of the raw event for subtype filtering
// and allowlist checks without exposing slackevents types to intake.
type InboundEvent struct {
	Channel      string
	User         string
	Text         string
	MessageTS    string
	ThreadTS     string
	Subtype      string
	BotID        string
	ChannelType  string
	IsAppMention bool
}

// Listener runs the Socket Mode event loop and normalizes inbound
// events, per spec.md §6 "subscribe_events". The connection lifecycle
// and event-type switch are grounded on the teacher's
// bridge.runSlackSocketMode (cmd/channelbridge/main.go).
type Listener struct {
	client *socketmode.Client
	log    *slog.Logger
}

// NewListener builds a Listener authenticated with both a bot token and
// an app-level token, mirroring the teacher's slackClientWithAppToken.
func NewListener(botToken, appToken, apiBase string, log *slog.Logger) (*Listener, error) {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	api := slack.New(
		strings.TrimSpace(botToken),
		slack.OptionAPIURL(base),
		slack.OptionAppLevelToken(strings.TrimSpace(appToken)),
	)
	if log == nil {
		log = slog.Default()
	}
	return &Listener{client: socketmode.New(api), log: log}, nil
}

// Run consumes Socket Mode events until ctx is canceled, delivering each
// normalized DM/mention event to handle. Every envelope that carries a
// request is acknowledged, as Slack requires, before it is handled.
func (l *Listener) Run(ctx context.Context, handle func(InboundEvent)) error {
	go l.client.Run()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-l.client.Events:
			if !ok {
				return nil
			}
			l.dispatch(evt, handle)
		}
	}
}

func (l *Listener) dispatch(evt socketmode.Event, handle func(InboundEvent)) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			l.client.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			return
		}
		switch in := ev.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			if in == nil {
				return
			}
			channelType := strings.ToLower(strings.TrimSpace(in.ChannelType))
			handle(InboundEvent{
				Channel:     in.Channel,
				User:        in.User,
				Text:        in.Text,
				MessageTS:   in.TimeStamp,
				ThreadTS:    in.ThreadTimeStamp,
				Subtype:     in.SubType,
				BotID:       in.BotID,
				ChannelType: channelType,
			})
		case *slackevents.AppMentionEvent:
			if in == nil {
				return
			}
			handle(InboundEvent{
				Channel:      in.Channel,
				User:         in.User,
				Text:         in.Text,
				MessageTS:    in.TimeStamp,
				ThreadTS:     in.ThreadTimeStamp,
				ChannelType:  "channel",
				IsAppMention: true,
			})
		}
	default:
		if evt.Request != nil {
			l.client.Ack(*evt.Request)
		}
	}
}

// ReplayDelay is how far a request timestamp may differ from the current
// wall-clock time, in either direction, before VerifySignature in
// httpevents.go rejects the request.
const ReplayDelay = 5 * time.Minute
