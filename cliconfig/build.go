package cliconfig

import (
	"context"
	"fmt"

	"github.com/justapithecus/racecm/adapter"
	"github.com/justapithecus/racecm/adapter/redis"
	"github.com/justapithecus/racecm/adapter/webhook"
	"github.com/justapithecus/racecm/cm"
	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/demo"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/snapshot"
	"github.com/justapithecus/racecm/types"
)

// ParseMode maps a config file's mode string to types.EncodingMode.
func ParseMode(s string) (types.EncodingMode, error) {
	switch s {
	case "single":
		return types.EncodingModeSingle, nil
	case "batch":
		return types.EncodingModeBatch, nil
	case "fragment_single_producer":
		return types.EncodingModeFragmentSingleProducer, nil
	case "fragment_multi_producer":
		return types.EncodingModeFragmentMultiProducer, nil
	default:
		return 0, fmt.Errorf("cliconfig: unknown mode %q", s)
	}
}

// BuildAdapters constructs one adapter.Adapter per entry in cfg, in
// order. An entry whose URL expanded to empty (an unset env var with
// no default) is skipped rather than failing the whole composition.
func BuildAdapters(entries []AdapterConfig) ([]adapter.Adapter, error) {
	var out []adapter.Adapter
	for i, e := range entries {
		if e.URL == "" {
			continue
		}
		switch e.Type {
		case "redis":
			retries := redis.DefaultRetries
			if e.Retries != nil {
				retries = *e.Retries
			}
			a, err := redis.New(redis.Config{URL: e.URL, Channel: e.Channel, Timeout: e.Timeout.Duration, Retries: retries})
			if err != nil {
				return nil, fmt.Errorf("adapter[%d]: %w", i, err)
			}
			out = append(out, a)
		case "webhook":
			retries := webhook.DefaultRetries
			if e.Retries != nil {
				retries = *e.Retries
			}
			a, err := webhook.New(webhook.Config{URL: e.URL, Headers: e.Headers, Timeout: e.Timeout.Duration, Retries: retries})
			if err != nil {
				return nil, fmt.Errorf("adapter[%d]: %w", i, err)
			}
			out = append(out, a)
		default:
			return nil, fmt.Errorf("adapter[%d]: unknown type %q", i, e.Type)
		}
	}
	return out, nil
}

// BuildSnapshotSink constructs the flight recorder's sink per cfg.Sink:
// "memory" (default) returns a snapshot.MemSink the caller can inspect
// directly; "s3" constructs a snapshot.S3Sink against the AWS SDK.
func BuildSnapshotSink(ctx context.Context, cfg SnapshotConfig) (snapshot.Sink, *snapshot.MemSink, error) {
	switch cfg.Sink {
	case "", "memory":
		mem := snapshot.NewMemSink()
		return mem, mem, nil
	case "s3":
		sink, err := snapshot.NewS3Sink(ctx, snapshot.S3Config{
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			Dataset:      cfg.S3.Dataset,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("cliconfig: s3 snapshot sink: %w", err)
		}
		return sink, nil, nil
	default:
		return nil, nil, fmt.Errorf("cliconfig: unknown snapshot sink %q", cfg.Sink)
	}
}

// BuildHarness returns the demo harness for cfg's composition, driven
// by the same clock the Facade itself uses. The returned Harness both
// supplies lifetime.Factories and, once activation completes, exposes
// the constructed components for the inspect view.
func BuildHarness(cfg *Config, now func() float64) *demo.Harness {
	return demo.NewHarness(now, cfg.ActionPeriod.Seconds(), cfg.ActionWindow.Seconds(), cfg.MaxEncodedBytes, len(cfg.Encodings))
}

// BuildFacadeConfig assembles a cm.Config from cfg, ready for cm.New,
// against sdk and harness's factories.
func BuildFacadeConfig(cfg *Config, sdk component.SDKCallbacks, harness *demo.Harness, logger *log.Logger, adapters []adapter.Adapter, recorderSink snapshot.Sink) (cm.Config, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return cm.Config{}, err
	}
	return cm.Config{
		Composition: types.Composition{
			ChannelGID: types.ChannelGID(cfg.ChannelGID),
			Transport:  cfg.Transport,
			UserModel:  cfg.UserModel,
			Encodings:  cfg.Encodings,
			NodeKind:   cfg.NodeKind,
			Platform:   cfg.Platform,
			Arch:       cfg.Arch,
		},
		Mode:              mode,
		SDK:               sdk,
		Factories:         harness.Factories(),
		Logger:            logger,
		ActivationTimeout: cfg.ActivationTimeout.Duration,
		RecorderInterval:  cfg.RecorderInterval.Duration,
		RecorderSink:      recorderSink,
		Adapters:          adapters,
	}, nil
}
