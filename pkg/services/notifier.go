package services

import (
	"context"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// Notifier broadcasts live state changes to event-stream subscribers.
// Publishing is best-effort: implementations log failures internally and must
// never block or fail the mutation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event models.StreamEvent)
}

// NopNotifier drops every event. Substituted when streaming is disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, models.StreamEvent) {}
