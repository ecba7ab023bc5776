package snapshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config configures the durable, off-box flight-recorder sink. It
// mirrors the teacher's own S3Config shape (bucket/prefix/region plus
// S3-compatible-provider overrides) but is scoped to one dataset of
// opaque snapshot blobs rather than the teacher's event/artifact model.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	// Dataset names the Lode dataset id; defaults to "cm-snapshots".
	Dataset string
}

func (c *S3Config) withDefaults() {
	if c.Dataset == "" {
		c.Dataset = "cm-snapshots"
	}
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("snapshot: S3 bucket is required")
	}
	return nil
}

// ParseS3Path parses a path in the form "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	parts := strings.SplitN(path, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// S3Sink persists snapshots as base64-wrapped msgpack blobs in a
// Lode dataset backed by S3, partitioned by channel id and day.
type S3Sink struct {
	dataset lode.Dataset
}

// NewS3Sink builds a Lode dataset against the given S3 backend using
// the AWS SDK's default credential chain (env vars, shared config, IAM
// role), the same construction the teacher's LodeClient used for its
// own S3-backed dataset.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	s3Client := s3.NewFromConfig(awsCfg, s3Opts...)

	factory := func() (lode.Store, error) {
		return lodes3.New(s3Client, lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	}

	ds, err := lode.NewDataset(
		lode.DatasetID(cfg.Dataset),
		factory,
		lode.WithHiveLayout("channel_gid", "day"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: new dataset: %w", err)
	}
	return &S3Sink{dataset: ds}, nil
}

// Write implements Sink: msgpack-encodes the snapshot and writes it
// as a single base64 blob record, partitioned by channel id and day.
func (s *S3Sink) Write(ctx context.Context, snap Counts) error {
	blob, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	record := map[string]any{
		"channel_gid": snap.ChannelGID,
		"day":         time.UnixMilli(snap.SampledAtUnixMs).UTC().Format("2006-01-02"),
		"sampled_at":  snap.SampledAtUnixMs,
		"blob":        base64.StdEncoding.EncodeToString(blob),
	}
	_, err = s.dataset.Write(ctx, []any{record}, lode.Metadata{})
	return err
}
