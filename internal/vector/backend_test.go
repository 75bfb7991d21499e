package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIndex struct{ name string }

func (s *stubIndex) Upsert(context.Context, []models.Record) error { return nil }
func (s *stubIndex) Query(context.Context, []float32, int, map[string]interface{}) ([]models.Match, error) {
	return nil, nil
}
func (s *stubIndex) Delete(context.Context, []string) error { return nil }
func (s *stubIndex) Fetch(context.Context, string) (*models.Record, error) {
	return nil, ErrNotFound
}
func (s *stubIndex) DeleteByFilter(context.Context, map[string]interface{}) ([]string, error) {
	return nil, nil
}
func (s *stubIndex) Count(context.Context) (int64, error) { return 0, nil }
func (s *stubIndex) Close() error                         { return nil }

type stubProvisioner struct {
	calls int
	err   error
}

func (p *stubProvisioner) EnsureIndex(_ context.Context, name string, _ int, _ string) (Index, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &stubIndex{name: "remote:" + name}, nil
}

func localStub(opened *int) func() (Index, error) {
	return func() (Index, error) {
		*opened++
		return &stubIndex{name: "local"}, nil
	}
}

func TestDecideBackend(t *testing.T) {
	boom := errors.New("remote down")
	tests := []struct {
		name            string
		deployment      Deployment
		cacheExists     bool
		provErr         error
		wantMode        Mode
		wantProvCalls   int
		wantLocalOpened int
		wantErr         error
	}{
		{"dev with cache skips remote", DeploymentDevelopment, true, nil, ModeLocal, 0, 1, nil},
		{"dev without cache provisions", DeploymentDevelopment, false, nil, ModeRemote, 1, 0, nil},
		{"dev provisioning failure degrades", DeploymentDevelopment, false, boom, ModeLocal, 1, 1, nil},
		{"production ignores local cache", DeploymentProduction, true, nil, ModeRemote, 1, 0, nil},
		{"production failure is fatal", DeploymentProduction, true, boom, ModeRemote, 1, 0, ErrProvisioning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prov := &stubProvisioner{err: tt.provErr}
			opened := 0
			idx, mode, err := DecideBackend(context.Background(), BackendRequest{
				Deployment:       tt.deployment,
				LocalCacheExists: tt.cacheExists,
				IndexName:        "recommendation-index",
				Dimensions:       3,
				Metric:           MetricCosine,
				Provisioner:      prov,
				Local:            localStub(&opened),
			})
			assert.Equal(t, tt.wantProvCalls, prov.calls)
			assert.Equal(t, tt.wantLocalOpened, opened)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, boom, "the provisioning cause is kept")
				assert.Nil(t, idx)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, mode)
			if mode == ModeRemote {
				assert.Equal(t, "remote:recommendation-index", idx.(*stubIndex).name)
			} else {
				assert.Equal(t, "local", idx.(*stubIndex).name)
			}
		})
	}
}

func TestDecideBackend_NoProvisioner(t *testing.T) {
	opened := 0
	_, mode, err := DecideBackend(context.Background(), BackendRequest{
		Deployment: DeploymentDevelopment,
		Local:      localStub(&opened),
	})
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, mode)
	assert.Equal(t, 1, opened)

	_, _, err = DecideBackend(context.Background(), BackendRequest{Deployment: DeploymentProduction})
	assert.ErrorIs(t, err, ErrProvisioning)
}

func TestParseDeployment(t *testing.T) {
	assert.Equal(t, DeploymentProduction, ParseDeployment("Production"))
	assert.Equal(t, DeploymentProduction, ParseDeployment(" production "))
	assert.Equal(t, DeploymentDevelopment, ParseDeployment("staging"))
	assert.Equal(t, DeploymentDevelopment, ParseDeployment(""))
	assert.Equal(t, "remote", ModeRemote.String())
	assert.Equal(t, "local", ModeLocal.String())
}

func TestLocalFactory(t *testing.T) {
	open := LocalFactory(context.Background(), t.TempDir(), 3, nil)
	idx, err := open()
	require.NoError(t, err)
	defer idx.Close()
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	prov, err := RemoteProvisioner(context.Background(), "", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, prov)
}
