package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/good-yellow-bee/callout/internal/directory"
	"github.com/good-yellow-bee/callout/internal/metrics"
	"github.com/good-yellow-bee/callout/internal/models"
	"github.com/good-yellow-bee/callout/internal/notifier"
	"github.com/good-yellow-bee/callout/internal/zabbix"
)

// ProblemSource is the monitoring API surface the engine consumes.
// *zabbix.Client satisfies it.
type ProblemSource interface {
	OpenProblems(ctx context.Context) ([]zabbix.Problem, error)
	EventTags(ctx context.Context, eventID string) (zabbix.Tags, error)
	EventHosts(ctx context.Context, eventID string) ([]models.Host, error)
}

// OnCallDirectory resolves who to call. *directory.Store satisfies it.
type OnCallDirectory interface {
	ResolveResponsible(ctx context.Context, now time.Time, fallback string) directory.Responsible
	PhoneByUsername(ctx context.Context, username string) (string, bool)
}

// Ledger is the persisted dedup store. *ledger.Store satisfies it.
type Ledger interface {
	Load(ctx context.Context) map[string]models.NotificationRecord
	Save(ctx context.Context, records map[string]models.NotificationRecord) error
}

// PolicySource serves the active escalation policy. *PolicyWatcher
// satisfies it; StaticPolicy wraps a fixed one.
type PolicySource interface {
	Current() *Policy
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy struct {
	Policy *Policy
}

// Current returns the wrapped policy.
func (s StaticPolicy) Current() *Policy {
	return s.Policy
}

// Options configures the engine.
type Options struct {
	// PollInterval is the sleep between cycles (default: 60s).
	PollInterval time.Duration
	// LookbackDays bounds how old a problem may be and still be
	// notified (default: 2).
	LookbackDays int
	// FallbackPhone is the number of last resort.
	FallbackPhone string
	// GroupLabel names the monitored group in chat alerts.
	GroupLabel string
	// NotifyTagKey and NotifyTagChannel form the opt-in marker an
	// incident must carry (defaults: "notification", "slack").
	NotifyTagKey     string
	NotifyTagChannel string
	// AssigneeTagKey is the responsible-party tag key (default: "Encargado").
	AssigneeTagKey string
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 60 * time.Second
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = 2
	}
	if o.NotifyTagKey == "" {
		o.NotifyTagKey = "notification"
	}
	if o.NotifyTagChannel == "" {
		o.NotifyTagChannel = "slack"
	}
	if o.AssigneeTagKey == "" {
		o.AssigneeTagKey = "Encargado"
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.FallbackPhone == "" {
		return fmt.Errorf("fallback phone is required")
	}
	return nil
}

// CycleStats summarizes one completed cycle.
type CycleStats struct {
	Fetched    int
	Skipped    int
	Notified   int
	Calls      int
	CallErrors int
	ChatErrors int
	LedgerSize int
}

// Engine runs the poll-notify-escalate loop. Cycles are strictly
// sequential; no internal locking is needed on the ledger mapping.
type Engine struct {
	opts   Options
	source ProblemSource
	dir    OnCallDirectory
	store  Ledger
	chat   notifier.ChatSink
	voice  notifier.VoiceSink
	policy PolicySource
}

// NewEngine creates a new escalation engine.
func NewEngine(opts Options, source ProblemSource, dir OnCallDirectory, store Ledger,
	chat notifier.ChatSink, voice notifier.VoiceSink, policy PolicySource) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}
	opts.setDefaults()

	return &Engine{
		opts:   opts,
		source: source,
		dir:    dir,
		store:  store,
		chat:   chat,
		voice:  voice,
		policy: policy,
	}, nil
}

// Run polls until the context is canceled. Cancellation is checked only
// between cycles; a started cycle runs to completion. A panicking cycle
// is recovered and logged, and the loop carries on.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("[monitor] engine started, polling every %s", e.opts.PollInterval)

	// The timer is armed after each cycle completes, so a slow cycle is
	// still followed by a full interval of sleep, never a back-to-back run.
	e.runCycleRecovered(ctx)
	timer := time.NewTimer(e.opts.PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[monitor] engine stopped")
			return
		case <-timer.C:
			e.runCycleRecovered(ctx)
			timer.Reset(e.opts.PollInterval)
		}
	}
}

func (e *Engine) runCycleRecovered(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CyclesTotal.WithLabelValues("panic").Inc()
			log.Printf("[monitor] cycle panicked: %v", r)
		}
	}()

	start := time.Now()
	stats, err := e.RunCycle(ctx, start)
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		log.Printf("[monitor] cycle failed: %v", err)
		return
	}
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	log.Printf("[monitor] cycle done in %s: fetched=%d skipped=%d notified=%d calls=%d call_errors=%d chat_errors=%d ledger=%d",
		time.Since(start).Round(time.Millisecond), stats.Fetched, stats.Skipped, stats.Notified,
		stats.Calls, stats.CallErrors, stats.ChatErrors, stats.LedgerSize)
}

// RunCycle executes one full cycle at the given instant. A source
// failure aborts the cycle with an error; per-incident anomalies are
// logged and skipped.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (CycleStats, error) {
	var stats CycleStats

	policy := e.policy.Current()
	records := e.store.Load(ctx)

	// Routing for the whole cycle; it does not change mid-iteration.
	responsible := e.dir.ResolveResponsible(ctx, now, e.opts.FallbackPhone)
	cyclePhone := responsible.Phone
	if cyclePhone == "" {
		cyclePhone = e.opts.FallbackPhone
	}
	if responsible.Contact == nil && !responsible.UseAssigneeTag {
		metrics.FallbacksTotal.Inc()
	}

	problems, err := e.source.OpenProblems(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetch open problems: %w", err)
	}
	stats.Fetched = len(problems)
	metrics.ProblemsFetched.Add(float64(len(problems)))

	cutoff := now.AddDate(0, 0, -e.opts.LookbackDays)
	changed := false

	for _, p := range problems {
		if p.Resolved {
			e.skip(&stats, "resolved")
			continue
		}
		label, known := policy.SeverityLabel(p.SeverityCode)
		if !known {
			e.skip(&stats, "severity")
			continue
		}
		if p.RaisedAt.Before(cutoff) {
			e.skip(&stats, "stale")
			continue
		}
		if _, seen := records[p.EventID]; seen {
			e.skip(&stats, "already_notified")
			continue
		}

		tags, err := e.source.EventTags(ctx, p.EventID)
		if err != nil {
			log.Printf("[monitor] event %s: tag fetch failed, retrying next cycle: %v", p.EventID, err)
			e.skip(&stats, "tags_unavailable")
			continue
		}
		if !tags.HasNotification(e.opts.NotifyTagKey, e.opts.NotifyTagChannel) {
			e.skip(&stats, "not_opted_in")
			continue
		}

		hosts, err := e.source.EventHosts(ctx, p.EventID)
		if err != nil || len(hosts) == 0 {
			// Transient incompleteness; the incident stays unseen.
			if err != nil {
				log.Printf("[monitor] event %s: host fetch failed, retrying next cycle: %v", p.EventID, err)
			} else {
				log.Printf("[monitor] event %s: no host detail yet, retrying next cycle", p.EventID)
			}
			e.skip(&stats, "hosts_unavailable")
			continue
		}
		host := hosts[0]

		incident := models.Incident{
			EventID:      p.EventID,
			SeverityCode: p.SeverityCode,
			Name:         p.Name,
			RaisedAt:     p.RaisedAt,
			Assignee:     tags.Assignee(e.opts.AssigneeTagKey),
		}

		e.notify(ctx, &stats, policy, incident, host, label, responsible, cyclePhone)

		records[p.EventID] = models.NotificationRecord{
			EventID:    p.EventID,
			NotifiedAt: now,
			Severity:   label,
			Hostname:   host.Hostname,
			Problem:    p.Name,
		}
		changed = true
		stats.Notified++
		metrics.IncidentsNotified.WithLabelValues(label).Inc()
	}

	if changed {
		if err := e.store.Save(ctx, records); err != nil {
			metrics.LedgerSaveErrors.Inc()
			log.Printf("[monitor] ledger save failed, incidents may renotify: %v", err)
		}
	}
	stats.LedgerSize = len(records)
	metrics.LedgerSize.Set(float64(len(records)))

	return stats, nil
}

func (e *Engine) skip(stats *CycleStats, reason string) {
	stats.Skipped++
	metrics.IncidentsSkipped.WithLabelValues(reason).Inc()
}

// notify posts the chat alert and, for escalating severities, places the
// voice call. Sink failures are logged and counted, never fatal.
func (e *Engine) notify(ctx context.Context, stats *CycleStats, policy *Policy,
	incident models.Incident, host models.Host, label string,
	responsible directory.Responsible, cyclePhone string) {

	alert := models.Alert{
		EventID:     incident.EventID,
		Hostname:    host.Hostname,
		VisibleName: host.VisibleName,
		Problem:     incident.Name,
		Severity:    label,
		Timestamp:   incident.RaisedAt,
		GroupLabel:  e.opts.GroupLabel,
	}

	if err := e.chat.Send(ctx, alert); err != nil {
		stats.ChatErrors++
		metrics.ChatSendsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, notifier.ErrRateLimited) {
			log.Printf("[monitor] event %s: chat notification rate limited", incident.EventID)
		} else {
			log.Printf("[monitor] event %s: chat notification failed: %v", incident.EventID, err)
		}
	} else {
		metrics.ChatSendsTotal.WithLabelValues("ok").Inc()
		log.Printf("[monitor] event %s: %s alert for %s sent to %s",
			incident.EventID, label, host.Hostname, e.chat.Name())
	}

	if !policy.ShouldEscalate(label) {
		return
	}

	number := e.escalationNumber(ctx, incident, responsible, cyclePhone)
	result := e.voice.Call(ctx, models.CallRequest{
		Number:     number,
		MessageKey: policy.MessageKey(label),
		Variables: map[string]string{
			"NOTIF_EVENT": incident.EventID,
			"NOTIF_HOST":  host.Hostname,
		},
	})
	stats.Calls++
	if result.Success {
		metrics.VoiceCallsTotal.WithLabelValues("ok").Inc()
		log.Printf("[monitor] event %s: call %s to %s queued", incident.EventID, result.CallID, number)
	} else {
		stats.CallErrors++
		metrics.VoiceCallsTotal.WithLabelValues("error").Inc()
		log.Printf("[monitor] event %s: call to %s failed: %v", incident.EventID, number, result.Err)
	}
}

// escalationNumber resolves where a critical incident's call goes.
// During business hours the incident's assignee tag wins, looked up in
// the directory; off hours the cycle's shift phone is used. Every branch
// terminates in a callable number.
func (e *Engine) escalationNumber(ctx context.Context, incident models.Incident,
	responsible directory.Responsible, cyclePhone string) string {

	if !responsible.UseAssigneeTag {
		return cyclePhone
	}

	if incident.Assignee == "" {
		log.Printf("[monitor] event %s: no assignee tag, using %s", incident.EventID, cyclePhone)
		return cyclePhone
	}

	phone, ok := e.dir.PhoneByUsername(ctx, incident.Assignee)
	if !ok {
		metrics.DirectoryLookupsTotal.WithLabelValues("miss").Inc()
		metrics.FallbacksTotal.Inc()
		log.Printf("[monitor] event %s: no phone for assignee %q, using fallback %s",
			incident.EventID, incident.Assignee, e.opts.FallbackPhone)
		return e.opts.FallbackPhone
	}
	metrics.DirectoryLookupsTotal.WithLabelValues("hit").Inc()
	return phone
}
