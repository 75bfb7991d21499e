package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Deployment is the environment the engine runs in.
type Deployment string

const (
	DeploymentProduction  Deployment = "production"
	DeploymentDevelopment Deployment = "development"
)

// ParseDeployment maps an environment name to a Deployment. Anything other than
// "production" (case-insensitive) is development.
func ParseDeployment(s string) Deployment {
	if strings.EqualFold(strings.TrimSpace(s), string(DeploymentProduction)) {
		return DeploymentProduction
	}
	return DeploymentDevelopment
}

// Mode is the backend an engine ended up with.
type Mode int

const (
	ModeLocal Mode = iota
	ModeRemote
)

func (m Mode) String() string {
	if m == ModeRemote {
		return "remote"
	}
	return "local"
}

// BackendRequest carries everything DecideBackend needs.
type BackendRequest struct {
	Deployment Deployment
	// LocalCacheExists reports whether a persisted embedding cache file was found
	// before the engine opened it.
	LocalCacheExists bool
	IndexName        string
	Dimensions       int
	Metric           string
	Provisioner      Provisioner
	Local            func() (Index, error)
	Logger           *zap.Logger
}

// DecideBackend picks the index for an engine, once:
//
//  1. outside production with an existing local cache file, use the local index and
//     never contact the remote service;
//  2. otherwise provision the remote index;
//  3. if that fails outside production, fall back to the local index;
//  4. if that fails in production, return an error wrapping ErrProvisioning.
func DecideBackend(ctx context.Context, req BackendRequest) (Index, Mode, error) {
	logger := req.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	production := req.Deployment == DeploymentProduction

	if !production && req.LocalCacheExists {
		logger.Info("local embedding cache found, using local index", zap.String("deployment", string(req.Deployment)))
		idx, err := openLocal(req)
		return idx, ModeLocal, err
	}

	var provErr error
	if req.Provisioner == nil {
		provErr = errors.New("no remote index provisioner configured")
	} else {
		idx, err := req.Provisioner.EnsureIndex(ctx, req.IndexName, req.Dimensions, req.Metric)
		if err == nil {
			logger.Info("using remote index", zap.String("index", req.IndexName))
			return idx, ModeRemote, nil
		}
		provErr = err
	}

	if production {
		return nil, ModeRemote, fmt.Errorf("%w %q: %w", ErrProvisioning, req.IndexName, provErr)
	}
	logger.Warn("remote index unavailable, degrading to local index",
		zap.String("index", req.IndexName), zap.Error(provErr))
	idx, err := openLocal(req)
	return idx, ModeLocal, err
}

func openLocal(req BackendRequest) (Index, error) {
	if req.Local == nil {
		return nil, errors.New("no local index configured")
	}
	idx, err := req.Local()
	if err != nil {
		return nil, fmt.Errorf("failed to open local index: %w", err)
	}
	return idx, nil
}
