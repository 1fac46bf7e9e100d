package abuse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ai4altruism/integritykit/internal/audit"
	"github.com/ai4altruism/integritykit/internal/rbac"
)

// AlertTypeRapidFireOverrides marks the rapid-fire override pattern.
const AlertTypeRapidFireOverrides = "rapid_fire_overrides"

// Defaults for the detection window.
const (
	DefaultWindow        = 10 * time.Minute
	DefaultThreshold     = 5
	DefaultAlertCooldown = 15 * time.Minute
)

// Alert describes a detected abuse pattern.
type Alert struct {
	UserID        string
	AlertType     string
	OverrideCount int
	Window        time.Duration
	At            time.Time
	Overrides     []Override
}

// TargetIDs lists the targets of the overrides behind the alert.
func (a *Alert) TargetIDs() []string {
	out := make([]string, len(a.Overrides))
	for i, o := range a.Overrides {
		out[i] = o.TargetID
	}
	return out
}

// AuditLog records flagged abuse entries. Satisfied by *audit.Service.
type AuditLog interface {
	Log(ctx context.Context, rec audit.Record) (*audit.Entry, error)
}

// Notifier delivers alerts to operators. Implementations must not block
// on delivery.
type Notifier interface {
	NotifyAbuse(ctx context.Context, alert Alert)
}

// Config tunes the detector.
type Config struct {
	// Enabled toggles detection entirely.
	Enabled bool

	// Window is the sliding detection window. Zero means
	// DefaultWindow.
	Window time.Duration

	// Threshold is the override count within Window that raises an
	// alert. Zero means DefaultThreshold.
	Threshold int

	// AlertCooldown suppresses repeat alerts for the same user. Zero
	// means DefaultAlertCooldown.
	AlertCooldown time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Detector watches override activity and raises alerts on rapid-fire
// patterns. Every alert becomes a flagged audit entry.
type Detector struct {
	tracker  Tracker
	trail    AuditLog
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	timeNow  func() time.Time
}

// NewDetector returns a detector. tracker and trail must not be nil;
// notifier may be nil.
func NewDetector(tracker Tracker, trail AuditLog, notifier Notifier, cfg Config) (*Detector, error) {
	if tracker == nil {
		return nil, errors.New("abuse: tracker is required")
	}
	if trail == nil {
		return nil, errors.New("abuse: audit log is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = DefaultAlertCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Detector{
		tracker:  tracker,
		trail:    trail,
		notifier: notifier,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		timeNow:  time.Now,
	}, nil
}

// RecordOverride tracks one override by actor and checks the pattern.
// Returns the alert when the threshold was crossed, nil otherwise.
func (d *Detector) RecordOverride(ctx context.Context, actor *rbac.User, actionType, targetID string) (*Alert, error) {
	if !d.cfg.Enabled {
		return nil, nil
	}

	now := d.timeNow().UTC()
	if err := d.tracker.Record(ctx, Override{
		UserID:     actor.ID,
		ActionType: actionType,
		TargetID:   targetID,
		At:         now,
	}); err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.IncOverridesTracked()
	}

	recent, err := d.tracker.RecentSince(ctx, actor.ID, now.Add(-d.cfg.Window))
	if err != nil {
		return nil, err
	}
	if len(recent) < d.cfg.Threshold {
		return nil, nil
	}

	lastAlert, err := d.tracker.LastAlert(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if !lastAlert.IsZero() && now.Sub(lastAlert) < d.cfg.AlertCooldown {
		d.logger.Debug("skipping duplicate abuse alert",
			"user_id", actor.ID,
			"last_alert", lastAlert.Format(time.RFC3339))
		return nil, nil
	}
	if err := d.tracker.MarkAlert(ctx, actor.ID, now); err != nil {
		return nil, err
	}

	alert := &Alert{
		UserID:        actor.ID,
		AlertType:     AlertTypeRapidFireOverrides,
		OverrideCount: len(recent),
		Window:        d.cfg.Window,
		At:            now,
		Overrides:     recent,
	}
	if err := d.raise(ctx, actor, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// OverrideCount returns the actor's current override count within the
// detection window.
func (d *Detector) OverrideCount(ctx context.Context, userID string) (int, error) {
	recent, err := d.tracker.RecentSince(ctx, userID, d.timeNow().UTC().Add(-d.cfg.Window))
	if err != nil {
		return 0, err
	}
	return len(recent), nil
}

// ClearUser drops tracked state for a user, typically on suspension.
func (d *Detector) ClearUser(ctx context.Context, userID string) error {
	if err := d.tracker.Clear(ctx, userID); err != nil {
		return err
	}
	d.logger.Info("cleared abuse detection history", "user_id", userID)
	return nil
}

func (d *Detector) raise(ctx context.Context, actor *rbac.User, alert *Alert) error {
	windowMinutes := int(alert.Window.Minutes())

	if _, err := d.trail.Log(ctx, audit.Record{
		ActorID:    actor.ID,
		ActorRoles: actor.RoleNames(),
		Action:     audit.ActionAbuseFlagged,
		TargetType: audit.TargetUser,
		TargetID:   actor.ID,
		After: map[string]any{
			"alert_type":     alert.AlertType,
			"override_count": alert.OverrideCount,
			"window_minutes": windowMinutes,
			"target_ids":     alert.TargetIDs(),
		},
		IsFlagged: true,
		FlagReason: fmt.Sprintf("rapid-fire overrides: %d overrides in %d minutes",
			alert.OverrideCount, windowMinutes),
	}); err != nil {
		return fmt.Errorf("failed to audit abuse alert: %w", err)
	}

	d.logger.Warn("abuse pattern detected",
		"user_id", alert.UserID,
		"alert_type", alert.AlertType,
		"override_count", alert.OverrideCount,
		"window_minutes", windowMinutes)
	if d.metrics != nil {
		d.metrics.IncAlerts(alert.AlertType)
	}

	if d.notifier != nil {
		d.notifier.NotifyAbuse(ctx, *alert)
	}
	return nil
}
