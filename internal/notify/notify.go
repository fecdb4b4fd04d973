// Package notify delivers new-alive batches to Slack and Discord webhooks.
// Delivery is best-effort: failures are logged, never propagated, and the
// webhook URL is redacted down to its last path segment in every log line.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/slack-go/slack"

	"github.com/dixcover/dixcover/internal/config"
	"github.com/dixcover/dixcover/internal/httpclient"
)

const (
	// deliveryTimeout bounds one webhook delivery.
	deliveryTimeout = 5 * time.Second

	// slackMaxItems is how many line-items one Slack message lists; the
	// rest collapses into a trailing count.
	slackMaxItems = 25
	// slackMaxBlocks caps the block count, below Slack's hard limit of 50.
	slackMaxBlocks = 45
	// slackMaxLineLen caps one section's text.
	slackMaxLineLen = 600

	// discordMaxTitle and discordMaxDescription are the embed field limits.
	discordMaxTitle       = 256
	discordMaxDescription = 4096
)

// timeFormat renders notification timestamps, without seconds.
const timeFormat = "2006-01-02 15:04"

// Item is one newly reachable host as reported by a probe sweep.
type Item struct {
	Subdomain  string
	StatusCode *int
	ProbedAt   time.Time
}

func (it Item) status() string {
	if it.StatusCode == nil {
		return "-"
	}
	return strconv.Itoa(*it.StatusCode)
}

func (it Item) timestamp() string {
	return it.ProbedAt.Format(timeFormat)
}

// Notifier fans a batch out to every configured sink.
type Notifier struct {
	cfg    config.NotifyConfig
	client *req.Client
	logger *slog.Logger

	// postSlack is injectable for tests; defaults to slack.PostWebhookContext.
	postSlack func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// New creates a Notifier. client delivers the Discord payload; Slack goes
// through the slack-go webhook helper.
func New(cfg config.NotifyConfig, client *req.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		postSlack: slack.PostWebhookContext,
	}
}

// NewlyAlive sends one notification per configured sink: a compact message
// for a single item, a batched one otherwise. Empty batches are a no-op.
func (n *Notifier) NewlyAlive(ctx context.Context, items []Item) {
	if len(items) == 0 {
		return
	}

	if n.cfg.SlackWebhookURL != "" {
		n.sendSlack(ctx, items)
	}
	if n.cfg.DiscordWebhookURL != "" {
		n.sendDiscord(ctx, items)
	}
}

func (n *Notifier) sendSlack(ctx context.Context, items []Item) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	msg := n.slackMessage(items)
	if err := n.postSlack(ctx, n.cfg.SlackWebhookURL, msg); err != nil {
		n.logger.Error("notify: slack delivery failed",
			"webhook", RedactURL(n.cfg.SlackWebhookURL),
			"error", httpclient.SanitizeErr(err))
		return
	}
	n.logger.Info("notify: slack delivered", "items", len(items))
}

// slackLine renders one item as a single mrkdwn line with timestamp, host
// and status code, capped at slackMaxLineLen.
func slackLine(it Item) string {
	line := fmt.Sprintf("*%s* — `%s` — status: `%s`", it.timestamp(), it.Subdomain, it.status())
	if len(line) > slackMaxLineLen {
		line = line[:slackMaxLineLen-3] + "..."
	}
	return line
}

// slackMessage renders one item as a compact section, or a batch as a header
// plus one section per item, capped at slackMaxItems with a trailing count.
func (n *Notifier) slackMessage(items []Item) *slack.WebhookMessage {
	mention := slackMention(n.cfg.SlackMention)

	if len(items) == 1 {
		text := "New alive subdomain: " + items[0].Subdomain
		if mention != "" {
			text = mention + " " + text
		}
		return &slack.WebhookMessage{
			Text: text,
			Blocks: &slack.Blocks{BlockSet: []slack.Block{
				slack.NewSectionBlock(
					slack.NewTextBlockObject(slack.MarkdownType, slackLine(items[0]), false, false), nil, nil),
				slack.NewContextBlock("",
					slack.NewTextBlockObject(slack.MarkdownType, "Dixcover probe", false, false)),
			}},
		}
	}

	shown := items
	overflow := 0
	if len(shown) > slackMaxItems {
		overflow = len(shown) - slackMaxItems
		shown = shown[:slackMaxItems]
	}

	summary := fmt.Sprintf("%d new alive subdomains detected", len(items))
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, summary, false, false)),
	}
	for _, it := range shown {
		if len(blocks) >= slackMaxBlocks-1 {
			break
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, slackLine(it), false, false), nil, nil))
	}
	if overflow > 0 {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("…and %d more", overflow), false, false)))
	}

	text := summary
	if mention != "" {
		text = mention + " " + summary
	}
	return &slack.WebhookMessage{
		Text:   text,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

// slackMention maps the configured mention mode onto Slack's broadcast
// syntax.
func slackMention(mode string) string {
	switch mode {
	case "here":
		return "<!here>"
	case "channel":
		return "<!channel>"
	default:
		return ""
	}
}

// discordEmbed is the single embed Discord receives.
type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

func (n *Notifier) sendDiscord(ctx context.Context, items []Item) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	payload := discordPayload{
		Content: discordMention(n.cfg.DiscordMention),
		Embeds:  []discordEmbed{n.discordEmbed(items)},
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBodyJsonMarshal(payload).
		Post(n.cfg.DiscordWebhookURL)
	if err != nil {
		n.logger.Error("notify: discord delivery failed",
			"webhook", RedactURL(n.cfg.DiscordWebhookURL),
			"error", httpclient.SanitizeErr(err))
		return
	}
	if !resp.IsSuccessState() {
		n.logger.Error("notify: discord rejected payload",
			"webhook", RedactURL(n.cfg.DiscordWebhookURL),
			"status", resp.StatusCode)
		return
	}
	n.logger.Info("notify: discord delivered", "items", len(items))
}

// discordEmbed renders a single item as a compact embed with an ISO-8601
// timestamp, or a batch as one embed listing per-item lines, trimmed at the
// last full line that fits the description limit.
func (n *Notifier) discordEmbed(items []Item) discordEmbed {
	if len(items) == 1 {
		it := items[0]
		return discordEmbed{
			Title:       "New alive subdomain",
			Description: fmt.Sprintf("**%s**\nStatus: `%s`", it.Subdomain, it.status()),
			Timestamp:   it.ProbedAt.Format(time.RFC3339),
		}
	}

	title := fmt.Sprintf("%d new alive subdomains", len(items))
	if len(title) > discordMaxTitle {
		title = title[:discordMaxTitle]
	}

	var b strings.Builder
	listed := 0
	for _, it := range items {
		line := fmt.Sprintf("**%s** — `%s` — %s\n", it.Subdomain, it.status(), it.timestamp())
		// Leave room for a trailing "…and N more" line.
		if b.Len()+len(line) > discordMaxDescription-32 {
			break
		}
		b.WriteString(line)
		listed++
	}
	desc := b.String()
	if rest := len(items) - listed; rest > 0 {
		desc += fmt.Sprintf("…and %d more", rest)
	}

	return discordEmbed{Title: title, Description: desc}
}

// discordMention maps the configured mention mode onto Discord's broadcast
// syntax.
func discordMention(mode string) string {
	switch mode {
	case "here":
		return "@here"
	case "everyone":
		return "@everyone"
	default:
		return ""
	}
}

// RedactURL reduces a webhook URL to its final path segment so full
// credentials never reach the logs.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "<redacted>"
	}
	return "…/" + path.Base(u.Path)
}
