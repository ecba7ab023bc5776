package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/racecm/cli/tui"
	"github.com/justapithecus/racecm/cliconfig"
	"github.com/justapithecus/racecm/cm"
	"github.com/justapithecus/racecm/demo"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/snapshot"
	"github.com/justapithecus/racecm/types"
)

const defaultRunDuration = 15 * time.Second

const sendPeriod = 400 * time.Millisecond

// RunCommand drives a cm.Facade against the in-memory demo harness
// for a bounded duration: activates the channel, creates one link,
// opens one connection on it, and submits a package on a fixed
// cadence, printing (or showing, with --tui) live counts throughout.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a demo channel end to end",
		Flags: []cli.Flag{ConfigFlag, DurationFlag, TUIFlag, NoColorFlag},
		Action: func(c *cli.Context) error {
			return runAction(c)
		},
	}
}

func runAction(c *cli.Context) error {
	cfg := cliconfig.Default()
	if path := c.String("config"); path != "" {
		loaded, err := cliconfig.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		cfg = *loaded
	}

	comp := types.Composition{
		ChannelGID: types.ChannelGID(cfg.ChannelGID),
		Transport:  cfg.Transport,
		UserModel:  cfg.UserModel,
		Encodings:  cfg.Encodings,
		NodeKind:   cfg.NodeKind,
		Platform:   cfg.Platform,
		Arch:       cfg.Arch,
	}
	logger := log.NewLogger(&comp)
	sdk := demo.NewSDK(logger)
	harness := cliconfig.BuildHarness(&cfg, wallClock)

	adapters, err := cliconfig.BuildAdapters(cfg.Adapters)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink, memSink, err := cliconfig.BuildSnapshotSink(ctx, cfg.Snapshot)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	facadeCfg, err := cliconfig.BuildFacadeConfig(&cfg, sdk, harness, logger, adapters, sink)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	facade := cm.New(facadeCfg)

	if cmErr := facade.Init(nil); cmErr != nil {
		return cli.Exit(cmErr.Error(), 1)
	}

	facade.ActivateChannel(1, comp.ChannelGID, "")
	if err := waitForState(facade, types.StateActivated, cfg.ActivationTimeout.Duration+2*time.Second); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	facade.CreateLink(2, comp.ChannelGID)
	linkID, err := waitForLinkID(sdk, 2*time.Second)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	facade.OpenConnection(3, demo.LinkType, linkID, "", 30)
	connID, err := waitForConnID(sdk, 2*time.Second)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	duration := c.Duration("duration")
	if duration <= 0 {
		duration = defaultRunDuration
	}
	deadline := time.Now().Add(duration)

	provider := &inspectProvider{comp: comp, facade: facade, sdk: sdk, harness: harness, sink: memSink}
	done := make(chan struct{})
	go func() {
		defer close(done)
		sendLoop(facade, connID, deadline)
	}()

	if c.Bool("tui") && memSink != nil {
		if err := tui.RunInspectTUI(provider, deadline); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	} else {
		printLoop(c, provider, deadline)
	}
	<-done

	facade.DeactivateChannel(4, comp.ChannelGID)
	time.Sleep(50 * time.Millisecond)
	if cmErr := facade.Shutdown(); cmErr != nil {
		return cli.Exit(cmErr.Error(), 1)
	}
	return nil
}

func wallClock() float64 { return float64(time.Now().UnixNano()) / 1e9 }

func waitForState(facade *cm.Facade, want types.State, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		switch s := facade.State(); {
		case s == want:
			return nil
		case s == types.StateFailed:
			return fmt.Errorf("cmd: channel failed while waiting for %s", want)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("cmd: timed out waiting for state %s", want)
}

func waitForLinkID(sdk *demo.SDK, timeout time.Duration) (types.LinkID, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if id := sdk.LastLinkID(); id != "" {
			return id, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", fmt.Errorf("cmd: timed out waiting for a link id")
}

func waitForConnID(sdk *demo.SDK, timeout time.Duration) (types.ConnectionID, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if id := sdk.LastConnectionID(); id != "" {
			return id, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", fmt.Errorf("cmd: timed out waiting for a connection id")
}

// sendLoop submits one package every sendPeriod until deadline, never
// treating pkgmgr.ErrNoSpace as fatal: it just means no action had
// room this tick.
func sendLoop(facade *cm.Facade, connID types.ConnectionID, deadline time.Time) {
	ticker := time.NewTicker(sendPeriod)
	defer ticker.Stop()
	var seq int
	for now := range ticker.C {
		if now.After(deadline) {
			return
		}
		seq++
		body := []byte(fmt.Sprintf("demo-package-%d", seq))
		facade.SendPackage(connID, body, 0, 0)
	}
}

func printLoop(c *cli.Context, provider *inspectProvider, deadline time.Time) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for now := range ticker.C {
		if now.After(deadline) {
			return
		}
		v := provider.Snapshot()
		fmt.Fprintf(c.App.Writer, "state=%s links=%d conns=%d actions=%d packages=%d fragments=%d sent=%d encoded=%d\n",
			v.State, v.Links, v.Connections, v.QueuedActions, v.PendingPackages, v.PendingFragments, v.PayloadsSent, v.EncodesDone)
	}
}

// inspectProvider adapts a running Facade, its demo SDK, harness, and
// flight-recorder MemSink into a tui.View, the same data the non-TUI
// printLoop prints.
type inspectProvider struct {
	comp    types.Composition
	facade  *cm.Facade
	sdk     *demo.SDK
	harness *demo.Harness
	sink    *snapshot.MemSink
}

func (p *inspectProvider) Snapshot() tui.View {
	v := tui.View{
		ChannelGID: string(p.comp.ChannelGID),
		State:      p.facade.State().String(),
	}
	if p.sink != nil {
		if last, ok := p.sink.Last(); ok {
			v.Links = last.Links
			v.Connections = last.Connections
			v.QueuedActions = last.QueuedActions
			v.PendingPackages = last.PendingPackages
			v.PendingFragments = last.PendingFragments
		}
	}
	if t := p.harness.Transport(); t != nil {
		v.PayloadsSent = t.SentCount()
	}
	v.EncodesDone = p.harness.EncodedCount()
	v.RecentEvents = p.sdk.Events()
	return v
}
