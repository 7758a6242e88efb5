// Package slackclient adapts github.com/slack-go/slack to the narrow
// capability set intake and the processor actually need: posting a
// message, listing a thread's replies, resolving a user's display name,
// and reporting the bridge's own bot-user id.
//
// The REST call shapes (client construction, retry-on-rate-limit) are
// grounded on the teacher's bridge type in
// cmd/channelbridge/main.go (slackClient, slackPostMessage,
// slackListUsers, slackRetryDecision).
package slackclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andrewmyhre/pai-slack-bridge/internal/threadstore"
	"github.com/slack-go/slack"
)

// Client is the chat-platform capability set intake and the processor
// consume, per spec.md §6.
type Client struct {
	api       *slack.Client
	botUserID string

	whoamiOnce sync.Once
	whoamiID   string
}

// New constructs a Client bound to botToken, targeting apiBase (empty
// defaults to the public Slack API).
func New(botToken, apiBase, botUserID string, httpClient *http.Client) (*Client, error) {
	botToken = strings.TrimSpace(botToken)
	if botToken == "" {
		return nil, errors.New("slackclient: missing bot token")
	}
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		api:       slack.New(botToken, slack.OptionHTTPClient(httpClient), slack.OptionAPIURL(base)),
		botUserID: strings.TrimSpace(botUserID),
	}, nil
}

// WhoAmI returns the bridge's own bot-user id, per spec.md §6 "whoami".
// If a bot user id was configured up front it is returned directly;
// otherwise it is resolved once via AuthTestContext and cached, so
// repeated calls from intake's per-event hot path don't each cost a
// round trip.
func (c *Client) WhoAmI() string {
	c.whoamiOnce.Do(func() {
		c.whoamiID = c.botUserID
		if c.whoamiID != "" {
			return
		}
		resp, err := c.api.AuthTestContext(context.Background())
		if err == nil && resp != nil {
			c.whoamiID = resp.UserID
		}
	})
	return c.whoamiID
}

// PostMessage posts text into channel, optionally threaded under
// threadTS. Errors are returned for the caller to log; there is no
// retry-until-delivered guarantee, per spec.md §6 "post_message:
// best-effort; errors logged".
func (c *Client) PostMessage(ctx context.Context, channel, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if ts := strings.TrimSpace(threadTS); ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	return withRetry(3, 200*time.Millisecond, func() (bool, error) {
		_, _, err := c.api.PostMessageContext(ctx, channel, opts...)
		return retryDecision(err)
	})
}

// ListReplies returns the messages in the thread rooted at ts, ordered
// oldest-first, up to limit entries. It satisfies threadstore.ReplySource.
func (c *Client) ListReplies(ctx context.Context, channel, ts string, limit int) ([]threadstore.PlatformMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	resp, _, _, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: ts,
		Limit:     limit,
		Inclusive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("slackclient: list replies for %s/%s: %w", channel, ts, err)
	}
	out := make([]threadstore.PlatformMessage, 0, len(resp))
	for _, m := range resp {
		out = append(out, threadstore.PlatformMessage{TS: m.Timestamp, User: m.User, BotID: m.BotID, Text: m.Text})
	}
	return out, nil
}

// DescribeUser resolves userID to the display name a human would
// recognize, preferring profile.display_name, then real_name, then
// name, per spec.md §6 "describe_user".
func (c *Client) DescribeUser(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("slackclient: empty user id")
	}
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("slackclient: describe user %s: %w", userID, err)
	}
	if name := strings.TrimSpace(u.Profile.DisplayName); name != "" {
		return name, nil
	}
	if name := strings.TrimSpace(u.RealName); name != "" {
		return name, nil
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return name, nil
	}
	return userID, nil
}

func retryDecision(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		if rle.RetryAfter > 0 {
			time.Sleep(rle.RetryAfter)
		}
		return true, err
	}
	return false, err
}

func withRetry(attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return lastErr
}
