package vector

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalIndexDir is the local index directory inside the cache directory.
const LocalIndexDir = "local_index"

// LocalFactory returns a constructor that opens the local index under cacheDir on
// demand, so nothing is created on disk when the remote backend is chosen.
func LocalFactory(ctx context.Context, cacheDir string, dimensions int, logger *zap.Logger) func() (Index, error) {
	return func() (Index, error) {
		return OpenLocalIndex(ctx, filepath.Join(cacheDir, LocalIndexDir), dimensions, WithLocalLogger(logger))
	}
}

// RemoteProvisioner connects to redisURL and returns a provisioner. An empty URL
// returns nil, which DecideBackend treats as a provisioning failure.
func RemoteProvisioner(ctx context.Context, redisURL string, filterable []string, logger *zap.Logger) (*RedisProvisioner, error) {
	if redisURL == "" {
		return nil, nil
	}
	client, err := NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisProvisioner(client, WithFilterableFields(filterable...), WithProvisionerLogger(logger)), nil
}
