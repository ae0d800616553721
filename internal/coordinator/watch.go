package coordinator

import (
	"context"

	"autosend/internal/automation"
	"autosend/internal/eventbus"
	logx "autosend/pkg/logx"
)

// Watch follows runner events and keeps IsRunning and LastActivity in step
// with what the runners actually do. It returns when ctx ends.
func (c *Coordinator) Watch(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64, "runner.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := e.Data.(automation.Event)
			if !ok {
				continue
			}
			if err := c.apply(ctx, ev); err != nil {
				c.log.Warn("runner event not recorded", logx.String("type", string(ev.Type)), logx.Int("tab", ev.TabID), logx.Err(err))
			}
		}
	}
}

func (c *Coordinator) apply(ctx context.Context, ev automation.Event) error {
	if _, ok := c.GetTabState(ev.TabID); !ok {
		return nil
	}
	var p Patch
	switch ev.Type {
	case automation.EventStarted:
		v := true
		p.IsRunning = &v
	case automation.EventStopped, automation.EventPaused, automation.EventError:
		v := false
		p.IsRunning = &v
	case automation.EventSent, automation.EventUnconfirmed:
		// activity only
	default:
		return nil
	}
	_, err := c.UpdateTabState(ctx, ev.TabID, p)
	return err
}
