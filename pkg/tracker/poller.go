package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/governor/pkg/bus"
	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

// Poller periodically scans every configured project and publishes one
// poll-snapshot event per issue. The sweep is the safety net under webhooks:
// a delivery the tracker dropped, an issue created while the governor was
// down, or a directive recorded with no snapshot to act on all get picked up
// within one interval. The deduplicator keeps unchanged issues from being
// re-evaluated.
type Poller struct {
	adapter Adapter
	bus     *bus.Bus
	cfg     *config.GovernorConfig
	logger  *slog.Logger
}

func NewPoller(adapter Adapter, b *bus.Bus, cfg *config.GovernorConfig, logger *slog.Logger) *Poller {
	if adapter == nil {
		panic("adapter is required")
	}
	if b == nil {
		panic("bus is required")
	}
	if cfg == nil {
		panic("governor config is required")
	}
	return &Poller{
		adapter: adapter,
		bus:     b,
		cfg:     cfg,
		logger:  logger.With("component", "poller"),
	}
}

// Run sweeps once immediately, then on every tick until the context ends.
// Returns nil right away when polling is disabled.
func (p *Poller) Run(ctx context.Context) error {
	if !p.cfg.EnablePolling {
		p.logger.Info("polling disabled")
		return nil
	}

	p.logger.Info("poller started",
		"interval", p.cfg.PollInterval,
		"projects", p.cfg.Projects)

	p.Sweep(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep scans all configured projects once. A failing project is logged and
// counted but does not stop the others.
func (p *Poller) Sweep(ctx context.Context) {
	for _, project := range p.cfg.Projects {
		if err := p.sweepProject(ctx, project); err != nil {
			telemetry.PollSweeps.WithLabelValues(project, "error").Inc()
			p.logger.Warn("project sweep failed", "project", project, "error", err)
			continue
		}
		telemetry.PollSweeps.WithLabelValues(project, "ok").Inc()
	}
}

func (p *Poller) sweepProject(ctx context.Context, project string) error {
	res, err := p.adapter.ScanProjectIssuesWithParents(ctx, project)
	if err != nil {
		return err
	}

	published := 0
	for _, issue := range res.Issues {
		snapshot := *issue
		snapshot.IsParent = res.ParentIDs[issue.ID]

		_, err := p.bus.Publish(models.Event{
			Type:      models.EventPollSnapshot,
			IssueID:   snapshot.ID,
			Issue:     snapshot,
			Timestamp: time.Now().UnixMilli(),
			Source:    models.SourcePoll,
			Project:   project,
		})
		if err != nil {
			return err
		}
		published++
	}

	p.logger.Debug("project swept", "project", project, "issues", published)
	return nil
}
