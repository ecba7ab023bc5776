package cm

import (
	"fmt"

	"github.com/justapithecus/racecm/types"
)

func errNotPermitted(state types.State) error {
	return fmt.Errorf("cm: operation not permitted in state %s", state)
}

func errChannelMismatch(got, want types.ChannelGID) error {
	return fmt.Errorf("cm: channel id %q does not match composition channel %q", got, want)
}

func errPanic(r any) error {
	return fmt.Errorf("cm: panic: %v", r)
}
