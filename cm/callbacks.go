package cm

import (
	"github.com/justapithecus/racecm/action"
	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/conn"
	"github.com/justapithecus/racecm/lifetime"
	"github.com/justapithecus/racecm/link"
	"github.com/justapithecus/racecm/pkgmgr"
	"github.com/justapithecus/racecm/recv"
	"github.com/justapithecus/racecm/types"
)

// callbacks builds the three callback values each factory is invoked
// with, closing over f so every component event re-enters the
// dispatcher (spec §5: "all child-component callbacks post closures
// onto this thread").
func (f *Facade) callbacks() lifetime.Callbacks {
	return lifetime.Callbacks{
		Transport: transportCB{f},
		UserModel: userModelCB{f},
		Encoding: func(index int) component.EncodeCallbacks {
			return encodeCB{f: f, index: index}
		},
	}
}

type transportCB struct{ f *Facade }

func (t transportCB) UpdateState(state types.ComponentState) {
	t.f.post("transport_update_state", 0, types.MaskNotFailed, "", func() *types.CMError {
		t.f.lifetime.OnComponentStateChanged(types.ComponentTransport, 0, state)
		return nil
	})
}

func (t transportCB) OnLinkStatusChanged(id types.LinkID, status types.LinkStatus) {
	t.f.post("onLinkStatusChanged", 0, types.MaskNotFailed, "", func() *types.CMError {
		return t.f.handleLinkStatusChanged(id, status)
	})
}

func (t transportCB) OnPackageStatusChanged(fh types.FragmentHandle, status types.TransportSendStatus) {
	t.f.post("onPackageStatusChanged", 0, types.MaskAnyActivated, "", func() *types.CMError {
		if t.f.pkgs != nil {
			t.f.pkgs.OnPackageStatusChanged(fh, status)
		}
		return nil
	})
}

func (t transportCB) OnReceive(id types.LinkID, params types.EncodingParameters, bytes []byte) {
	t.f.post("onReceive", 0, types.MaskAnyActivated, "", func() *types.CMError {
		if t.f.recv == nil {
			return nil
		}
		if err := t.f.recv.OnReceive(id, params, bytes); err != nil {
			return types.NewFatal("onReceive", err)
		}
		return nil
	})
}

type userModelCB struct{ f *Facade }

func (u userModelCB) UpdateState(state types.ComponentState) {
	u.f.post("user_model_update_state", 0, types.MaskNotFailed, "", func() *types.CMError {
		u.f.lifetime.OnComponentStateChanged(types.ComponentUserModel, 0, state)
		return nil
	})
}

func (u userModelCB) OnTimelineUpdated() {
	u.f.post("onTimelineUpdated", 0, types.MaskAnyActivated, "", func() *types.CMError {
		if u.f.actions != nil {
			u.f.actions.OnTimelineUpdated()
		}
		return nil
	})
}

type encodeCB struct {
	f     *Facade
	index int
}

func (e encodeCB) UpdateState(state types.ComponentState) {
	e.f.post("encoding_update_state", 0, types.MaskNotFailed, "", func() *types.CMError {
		e.f.lifetime.OnComponentStateChanged(types.ComponentEncoding, e.index, state)
		return nil
	})
}

func (e encodeCB) OnBytesEncoded(handle string, bytes []byte, status types.TransportSendStatus) {
	e.f.post("onBytesEncoded", 0, types.MaskAnyActivated, "", func() *types.CMError {
		if e.f.pkgs != nil {
			e.f.pkgs.OnBytesEncoded(handle, bytes, status)
		}
		return nil
	})
}

func (e encodeCB) OnBytesDecoded(handle string, bytes []byte, status types.TransportSendStatus) {
	e.f.post("onBytesDecoded", 0, types.MaskAnyActivated, "", func() *types.CMError {
		if e.f.recv != nil {
			e.f.recv.OnBytesDecoded(handle, bytes, status)
		}
		return nil
	})
}

// handleLinkStatusChanged implements the Link Manager's onLinkStatusChanged
// reaction (spec §4.3), cascading to connections and the Package Manager
// on DESTROYED and informing the user-model of link lifecycle if it
// implements component.LinkAware.
func (f *Facade) handleLinkStatusChanged(id types.LinkID, status types.LinkStatus) *types.CMError {
	if f.links == nil {
		return nil
	}

	addLink := func(linkID types.LinkID, properties string) error {
		if aware, ok := f.userModel.(component.LinkAware); ok {
			return aware.AddLink(linkID, properties)
		}
		return nil
	}
	if err := f.links.OnLinkStatusChanged(id, status, addLink); err != nil {
		return types.NewError("onLinkStatusChanged", err)
	}

	if status == types.LinkDestroyed {
		if f.conns != nil {
			f.conns.CloseAllForLink(0, id)
		}
		if f.pkgs != nil {
			f.pkgs.OnLinkStatusChanged(id, status)
		}
		if aware, ok := f.userModel.(component.LinkAware); ok {
			aware.RemoveLink(id)
		}
	}
	return nil
}

// onComponentsReady builds every sub-manager against concrete
// component instances, wires the action/package manager collaboration
// (spec §4.5/§4.6), and runs Action Manager setup.
func (f *Facade) onComponentsReady(transport component.Transport, userModel component.UserModel, encodings []component.Encoding) error {
	f.transport = transport
	f.userModel = userModel
	f.encodings = encodings

	f.links = link.New(transport, f.sdk, f.log, f.metrics)
	f.conns = conn.New(f.links, f.sdk, f.log, f.metrics)
	f.actions = action.New(transport, userModel, encodings, f.log, f.metrics, f.now)
	f.pkgs = pkgmgr.New(f.mode, f.actions, f.links, transport, f.sdk, f.log, f.metrics, f.now)
	f.pkgs.ResolveLink = func(connID types.ConnectionID) (types.LinkID, bool) {
		c, ok := f.conns.Get(connID)
		if !ok {
			return "", false
		}
		return c.LinkID, true
	}
	f.pkgs.ConnIDsForLink = f.conns.ConnectionIDsForLink
	f.pkgs.SetEncodings(encodings, f.lifetime.EncodingWorker)
	f.recv = recv.New(f.mode, f.links, encodings, f.sdk, f.log, f.metrics)

	f.actions.SetHooks(action.Hooks{
		KnownLinks:         f.links.All,
		FragmentsForAction: f.pkgs.FragmentsForAction,
		EncodeForAction:    f.pkgs.EncodeForAction,
		NotifyActionDone:   f.pkgs.NotifyActionDone,
		RebuildAssignments: f.pkgs.GenerateForAll,
	})

	if err := f.actions.Setup(); err != nil {
		return err
	}
	f.pkgs.SetMaxEncodingTime(f.actions.MaxEncodingTime())
	return nil
}

// onActivationDone starts the action thread once every child has
// reported STARTED and the CM has already moved to ACTIVATED.
func (f *Facade) onActivationDone() {
	f.actions.Start(func() bool { return f.State() == types.StateActivated })
}

// onTornDown releases every sub-manager, called by the Lifetime
// Manager before it releases its own children (spec §4.2, the
// destruction invariant).
func (f *Facade) onTornDown() {
	f.links = nil
	f.conns = nil
	f.actions = nil
	f.pkgs = nil
	f.recv = nil
	f.transport = nil
	f.userModel = nil
	f.encodings = nil
}
