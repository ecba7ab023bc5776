package cm

import (
	"context"
	"time"

	"github.com/justapithecus/racecm/adapter"
	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/types"
)

// publishTimeout bounds how long a single adapter publish may run before
// it's abandoned; a slow or wedged downstream must never hold up the CM.
const publishTimeout = 5 * time.Second

// fanoutSDK wraps the real component.SDKCallbacks and additionally
// fans every status-changing callback out to zero or more
// adapter.Adapter publishers, in its own goroutine, fire-and-forget
// (spec_full's status adapter bus: "a missing/failed adapter publish
// never affects CM state"). Every other SDKCallbacks method is a
// direct passthrough.
type fanoutSDK struct {
	component.SDKCallbacks
	adapters []adapter.Adapter
	log      *log.Logger
}

func newFanoutSDK(sdk component.SDKCallbacks, adapters []adapter.Adapter, logger *log.Logger) component.SDKCallbacks {
	if len(adapters) == 0 {
		return sdk
	}
	return &fanoutSDK{SDKCallbacks: sdk, adapters: adapters, log: logger}
}

func (f *fanoutSDK) OnChannelStatusChanged(channelGID types.ChannelGID, status types.ChannelStatus) {
	f.SDKCallbacks.OnChannelStatusChanged(channelGID, status)
	f.publish(&adapter.StatusEvent{
		EventType:     "channel_status",
		ChannelGID:    string(channelGID),
		ChannelStatus: status.String(),
	})
}

func (f *fanoutSDK) OnLinkStatusChanged(linkID types.LinkID, status types.LinkStatus, properties string) {
	f.SDKCallbacks.OnLinkStatusChanged(linkID, status, properties)
	f.publish(&adapter.StatusEvent{
		EventType:  "link_status",
		LinkID:     string(linkID),
		LinkStatus: status.String(),
	})
}

func (f *fanoutSDK) OnConnectionStatusChanged(handle uint64, connID types.ConnectionID, status types.ConnectionStatus) {
	f.SDKCallbacks.OnConnectionStatusChanged(handle, connID, status)
	f.publish(&adapter.StatusEvent{
		EventType:        "connection_status",
		Handle:           handle,
		ConnectionID:     string(connID),
		ConnectionStatus: status.String(),
	})
}

func (f *fanoutSDK) OnPackageStatusChanged(handle types.PackageHandle, outcome types.PackageOutcome) {
	f.SDKCallbacks.OnPackageStatusChanged(handle, outcome)
	f.publish(&adapter.StatusEvent{
		EventType:      "package_status",
		PackageHandle:  string(handle),
		PackageOutcome: outcome.String(),
	})
}

// publish fans event out to every configured adapter on its own
// goroutine so a slow or failing downstream never blocks the
// dispatcher that produced the event.
func (f *fanoutSDK) publish(event *adapter.StatusEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	for _, a := range f.adapters {
		a := a
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := a.Publish(ctx, event); err != nil {
				f.log.Warn("adapter: publish failed", map[string]any{"event_type": event.EventType, "error": err.Error()})
			}
		}()
	}
}
