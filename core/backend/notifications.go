package backend

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemabase/core"
	"github.com/relabs-tech/schemabase/core/logger"
)

// handleNotifications sends every created, updated and deleted record to
// notifier. A failing notification is logged, it does not fail the request
// because the change is already stored.
func (b *Backend) handleNotifications(notifier core.Notifier) {
	notify := func(action core.Action) Hook {
		return func(ctx context.Context, event *Event) error {
			rlog := logger.FromContext(ctx)
			payload, err := json.Marshal(event.Record)
			if err != nil {
				rlog.WithError(err).Errorf("Error 4830: cannot marshal %s notification for %s", action, event.Entity)
				return nil
			}
			if err = notifier.Notify(ctx, event.Entity, action, event.Record.ID(), payload); err != nil {
				rlog.WithError(err).Errorf("Error 4831: cannot notify %s of %s %s", action, event.Entity, event.Record.ID())
			}
			return nil
		}
	}
	b.hooks.Handle(AnyEntity, AfterCreate, notify(core.ActionCreate))
	b.hooks.Handle(AnyEntity, AfterUpdate, notify(core.ActionUpdate))
	b.hooks.Handle(AnyEntity, AfterDelete, notify(core.ActionDelete))
}
