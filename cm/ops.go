package cm

import (
	"errors"

	"github.com/justapithecus/racecm/pkgmgr"
	"github.com/justapithecus/racecm/types"
)

// Init transitions the CM from its zero-value INITIALIZING state to
// UNACTIVATED (spec §6). configPaths are accepted for contract parity
// but not interpreted by the CM itself.
func (f *Facade) Init(configPaths []string) *types.CMError {
	return f.postSync("init", types.MaskCanInit, "", func() *types.CMError {
		f.setState(types.StateUnactivated)
		return nil
	})
}

// Shutdown tears down any held children, transitions SHUTTING_DOWN,
// and stops the dispatcher. No further operations may be posted after
// Shutdown returns (spec §6, §5 "cancellation & timeouts").
func (f *Facade) Shutdown() *types.CMError {
	result := f.postSync("shutdown", types.MaskCanShutdown, "", func() *types.CMError {
		if f.lifetime.HoldsChildren() {
			f.lifetime.Shutdown()
		}
		f.setState(types.StateShuttingDown)
		f.lifetime.Close()
		return nil
	})
	close(f.queue)
	return result
}

// ActivateChannel begins child construction (spec §4.2, §6).
func (f *Facade) ActivateChannel(handle uint64, channelGID types.ChannelGID, roleName string) types.PostID {
	return f.post("activateChannel", handle, types.MaskCanActivate, channelGID, func() *types.CMError {
		return f.lifetime.Activate(f.factories, f.callbacks())
	})
}

// DeactivateChannel tears every sub-manager down and returns to
// UNACTIVATED (spec §4.2, §6).
func (f *Facade) DeactivateChannel(handle uint64, channelGID types.ChannelGID) types.PostID {
	return f.post("deactivateChannel", handle, types.MaskCanDeactivate, channelGID, func() *types.CMError {
		f.lifetime.Deactivate()
		return nil
	})
}

// SendPackage is post_sync per spec §4.1: the SDK's contract requires
// a synchronous handle-or-temp-error return. A no-fitting-action
// rejection surfaces as KindTemp (PLUGIN_TEMP_ERROR), never mutating
// state (spec §8, testable property 4). timeoutTimestamp and batchID
// are accepted but not consulted.
func (f *Facade) SendPackage(connID types.ConnectionID, bytes []byte, timeoutTimestamp float64, batchID uint64) (types.PackageHandle, *types.CMError) {
	var handle types.PackageHandle
	result := f.postSync("sendPackage", types.MaskAnyActivated, "", func() *types.CMError {
		h, err := f.pkgs.SendPackage(connID, bytes)
		if err != nil {
			if errors.Is(err, pkgmgr.ErrNoSpace) {
				return types.NewTemp("sendPackage", err)
			}
			return types.NewError("sendPackage", err)
		}
		handle = h
		return nil
	})
	return handle, result
}

// OpenConnection is async: its outcome is reported via
// onConnectionStatusChanged (spec §4.4, §6).
func (f *Facade) OpenConnection(handle uint64, linkType string, linkID types.LinkID, linkHints string, sendTimeout int) types.PostID {
	return f.post("openConnection", handle, types.MaskAnyActivated, "", func() *types.CMError {
		if _, err := f.conns.OpenConnection(handle, linkType, linkID, linkHints, sendTimeout); err != nil {
			return types.NewError("openConnection", err)
		}
		return nil
	})
}

// CloseConnection is async: its outcome is reported via
// onConnectionStatusChanged (spec §4.4, §6).
func (f *Facade) CloseConnection(handle uint64, connID types.ConnectionID) types.PostID {
	return f.post("closeConnection", handle, types.MaskAnyActivated, "", func() *types.CMError {
		if err := f.conns.CloseConnection(handle, connID); err != nil {
			return types.NewError("closeConnection", err)
		}
		return nil
	})
}

// CreateLink delegates to the transport; the resulting Link record
// materializes later via onLinkStatusChanged (spec §4.3, §6).
func (f *Facade) CreateLink(handle uint64, channelGID types.ChannelGID) types.PostID {
	return f.post("createLink", handle, types.MaskAnyActivated, channelGID, func() *types.CMError {
		if _, err := f.links.CreateLink(channelGID); err != nil {
			return types.NewError("createLink", err)
		}
		return nil
	})
}

// LoadLinkAddress is CreateLink's analog for a single pre-known address.
func (f *Facade) LoadLinkAddress(handle uint64, channelGID types.ChannelGID, address string) types.PostID {
	return f.post("loadLinkAddress", handle, types.MaskAnyActivated, channelGID, func() *types.CMError {
		if _, err := f.links.LoadLinkAddress(channelGID, address); err != nil {
			return types.NewError("loadLinkAddress", err)
		}
		return nil
	})
}

// LoadLinkAddresses is CreateLink's analog for multiple pre-known addresses.
func (f *Facade) LoadLinkAddresses(handle uint64, channelGID types.ChannelGID, addresses []string) types.PostID {
	return f.post("loadLinkAddresses", handle, types.MaskAnyActivated, channelGID, func() *types.CMError {
		if _, err := f.links.LoadLinkAddresses(channelGID, addresses); err != nil {
			return types.NewError("loadLinkAddresses", err)
		}
		return nil
	})
}

// CreateLinkFromAddress is CreateLink's analog when the caller supplies
// the address directly.
func (f *Facade) CreateLinkFromAddress(handle uint64, channelGID types.ChannelGID, address string) types.PostID {
	return f.post("createLinkFromAddress", handle, types.MaskAnyActivated, channelGID, func() *types.CMError {
		if _, err := f.links.CreateLinkFromAddress(channelGID, address); err != nil {
			return types.NewError("createLinkFromAddress", err)
		}
		return nil
	})
}

// DestroyLink asks the transport to tear a link down (spec §4.3, §6).
func (f *Facade) DestroyLink(handle uint64, linkID types.LinkID) types.PostID {
	return f.post("destroyLink", handle, types.MaskAnyActivated, "", func() *types.CMError {
		if err := f.links.DestroyLink(linkID); err != nil {
			return types.NewError("destroyLink", err)
		}
		return nil
	})
}

// OnUserInputReceived accepts answered user input and logs it at debug
// level. No component interface in this module defines an inbound
// delivery method for answered input, so the input is not routed to
// any component.
func (f *Facade) OnUserInputReceived(handle uint64, answered bool, response string) types.PostID {
	return f.post("onUserInputReceived", handle, types.MaskNotFailed, "", func() *types.CMError {
		f.log.Debug("cm: user input received", map[string]any{"handle": handle, "answered": answered})
		return nil
	})
}

// OnUserAcknowledgementReceived is OnUserInputReceived's analog for a
// bare acknowledgement with no response payload.
func (f *Facade) OnUserAcknowledgementReceived(handle uint64, answered bool) types.PostID {
	return f.post("onUserAcknowledgementReceived", handle, types.MaskNotFailed, "", func() *types.CMError {
		f.log.Debug("cm: user acknowledgement received", map[string]any{"handle": handle, "answered": answered})
		return nil
	})
}
