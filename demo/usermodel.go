package demo

import (
	"strconv"
	"sync"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/types"
)

// UserModel is an in-memory component.UserModel that schedules one
// action every period seconds, indefinitely, starting from the instant
// it was constructed. It implements component.LinkAware purely for
// observability: AddLink/RemoveLink just record what the Link Manager
// told it.
type UserModel struct {
	base   float64
	period float64
	length float64

	mu    sync.Mutex
	links map[types.LinkID]string
	seq   uint64
}

// NewUserModel returns a factory closing over now, the clock the demo
// CLI drives the CM with, and period/length, the action cadence and
// lookahead window (component.UserModel.TimelineFetchPeriod/Length).
func NewUserModel(now func() float64, period, length float64) func(component.UserModelCallbacks) (component.UserModel, error) {
	return func(cb component.UserModelCallbacks) (component.UserModel, error) {
		um := &UserModel{base: now(), period: period, length: length, links: make(map[types.LinkID]string)}
		cb.UpdateState(types.ComponentStateStarted)
		return um, nil
	}
}

func (u *UserModel) TimelineLength() float64      { return u.length }
func (u *UserModel) TimelineFetchPeriod() float64 { return u.period }

// GetTimeline returns one action per period boundary in [start, end).
func (u *UserModel) GetTimeline(start, end float64) ([]types.Action, error) {
	if u.period <= 0 {
		return nil, nil
	}
	var out []types.Action
	first := u.base
	for first < start {
		first += u.period
	}
	for t := first; t < end; t += u.period {
		u.mu.Lock()
		u.seq++
		id := u.seq
		u.mu.Unlock()
		out = append(out, types.Action{Timestamp: t, ActionID: types.ActionID("act-" + strconv.FormatUint(id, 10))})
	}
	return out, nil
}

func (u *UserModel) OnSendPackage(linkID types.LinkID, bytes []byte) ([]types.Action, error) {
	return nil, nil
}

func (u *UserModel) AddLink(linkID types.LinkID, properties string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.links[linkID] = properties
	return nil
}

func (u *UserModel) RemoveLink(linkID types.LinkID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.links, linkID)
}

// Links returns a snapshot of every link this user-model currently
// knows about.
func (u *UserModel) Links() map[types.LinkID]string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[types.LinkID]string, len(u.links))
	for k, v := range u.links {
		out[k] = v
	}
	return out
}
