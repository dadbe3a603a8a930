package quota

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// UsageProber reports consumed storage bytes for the managed location.
type UsageProber interface {
	Usage(ctx context.Context) (int64, error)
}

// DeviceProber reports usage of the filesystem holding Path via Statfs.
// This measures the whole device, which matches deployments where the cache
// directory owns its volume.
type DeviceProber struct {
	Path string
}

// Usage returns used bytes on the device holding the prober's path.
func (p *DeviceProber) Usage(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(p.Path, &stat); err != nil {
		return 0, fmt.Errorf("failed to statfs %s: %w", p.Path, err)
	}

	used := (stat.Blocks - stat.Bavail) * uint64(stat.Bsize)

	return int64(used), nil
}

// FixedProber returns a settable usage value. Test helper.
type FixedProber struct {
	Bytes int64
	Err   error
}

// Usage returns the configured value.
func (p *FixedProber) Usage(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.Bytes, p.Err
}
