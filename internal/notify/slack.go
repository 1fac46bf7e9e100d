// Package notify delivers operator alerts over Slack. Delivery is
// asynchronous with bounded retries; a failed alert is logged and
// dropped, never allowed to block a state transition.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/ai4altruism/integritykit/internal/abuse"
	"github.com/ai4altruism/integritykit/internal/approval"
	"github.com/ai4altruism/integritykit/internal/retry"
)

// deliveryTimeout bounds one alert delivery, retries included.
const deliveryTimeout = 30 * time.Second

// slackAPI is the slice of the Slack client the notifier uses.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Config configures the Slack notifier.
type Config struct {
	// Token is the bot token.
	Token string
	// AlertChannel receives abuse alerts.
	AlertChannel string

	Retry  retry.Config
	Logger *slog.Logger
}

// SlackNotifier implements abuse.Notifier and approval.Notifier over
// the Slack Web API.
type SlackNotifier struct {
	client   slackAPI
	channel  string
	retryCfg retry.Config
	logger   *slog.Logger
}

// NewSlackNotifier returns a notifier, or nil when no token or channel is
// configured. A nil notifier is valid to pass where abuse.Notifier is
// optional.
func NewSlackNotifier(cfg Config) *SlackNotifier {
	if cfg.Token == "" || cfg.AlertChannel == "" {
		return nil
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SlackNotifier{
		client:   slack.New(cfg.Token),
		channel:  cfg.AlertChannel,
		retryCfg: cfg.Retry,
		logger:   cfg.Logger,
	}
}

// NotifyAbuse posts an abuse alert to the configured channel. Returns
// immediately; delivery happens in the background.
func (n *SlackNotifier) NotifyAbuse(ctx context.Context, alert abuse.Alert) {
	go n.deliver(alert)
}

func (n *SlackNotifier) deliver(alert abuse.Alert) {
	// Detached from the caller: the triggering request may already be
	// done by the time delivery happens.
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	windowMinutes := int(alert.Window.Minutes())
	text := fmt.Sprintf("Abuse pattern detected: %d overrides by %s in %d minutes",
		alert.OverrideCount, alert.UserID, windowMinutes)

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, ":warning: Abuse Pattern Detected", true, false),
		),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			slack.NewTextBlockObject(slack.MarkdownType, "*User:*\n"+alert.UserID, false, false),
			slack.NewTextBlockObject(slack.MarkdownType, "*Alert Type:*\n"+alert.AlertType, false, false),
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Override Count:*\n%d", alert.OverrideCount), false, false),
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*Time Window:*\n%d minutes", windowMinutes), false, false),
		}, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				"Detected at "+alert.At.Format(time.RFC3339), false, false),
		),
	}

	err := retry.Do(ctx, n.retryCfg, "slack_abuse_alert", func(ctx context.Context) error {
		_, _, err := n.client.PostMessageContext(ctx, n.channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionBlocks(blocks...),
		)
		if err != nil {
			return retry.Mark(err)
		}
		return nil
	})
	if err != nil {
		n.logger.Error("failed to deliver abuse alert",
			"channel", n.channel,
			"user_id", alert.UserID,
			"error", err)
		return
	}

	n.logger.Info("abuse alert delivered",
		"channel", n.channel,
		"user_id", alert.UserID)
}

// NotifyApproval posts an approval lifecycle event to the configured
// channel. Returns immediately; delivery happens in the background.
func (n *SlackNotifier) NotifyApproval(ctx context.Context, ev approval.Event) {
	go n.deliverApproval(ev)
}

func (n *SlackNotifier) deliverApproval(ev approval.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	text := fmt.Sprintf("Approval %s %s for candidate %s by %s",
		ev.ApprovalID, ev.Kind, ev.CandidateID, ev.ActorID)

	header := ":memo: Approval Requested"
	switch ev.Kind {
	case approval.EventGranted:
		header = ":white_check_mark: Approval Granted"
	case approval.EventDenied:
		header = ":no_entry: Approval Denied"
	case approval.EventExpired:
		header = ":hourglass: Approval Expired"
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, header, true, false),
		),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			slack.NewTextBlockObject(slack.MarkdownType, "*Candidate:*\n"+ev.CandidateID, false, false),
			slack.NewTextBlockObject(slack.MarkdownType, "*Approval:*\n"+ev.ApprovalID, false, false),
			slack.NewTextBlockObject(slack.MarkdownType, "*Actor:*\n"+ev.ActorID, false, false),
			slack.NewTextBlockObject(slack.MarkdownType, "*Event:*\n"+ev.Kind, false, false),
		}, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				"At "+ev.At.Format(time.RFC3339), false, false),
		),
	}

	err := retry.Do(ctx, n.retryCfg, "slack_approval_event", func(ctx context.Context) error {
		_, _, err := n.client.PostMessageContext(ctx, n.channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionBlocks(blocks...),
		)
		if err != nil {
			return retry.Mark(err)
		}
		return nil
	})
	if err != nil {
		n.logger.Error("failed to deliver approval event",
			"channel", n.channel,
			"approval_id", ev.ApprovalID,
			"error", err)
		return
	}

	n.logger.Info("approval event delivered",
		"channel", n.channel,
		"approval_id", ev.ApprovalID,
		"kind", ev.Kind)
}
