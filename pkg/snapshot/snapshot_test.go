package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elSilveira/gaser/pkg/config"
)

func TestBoltMirror_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror", "volatile.bolt")

	m, err := OpenBolt(path)
	require.NoError(t, err)

	data, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, data, "fresh mirror should be empty")

	require.NoError(t, m.Save(ctx, []byte(`{"v":1}`)))
	require.NoError(t, m.Save(ctx, []byte(`{"v":2}`)))
	require.NoError(t, m.Close())

	// Reopen to prove the blob hit disk
	m, err = OpenBolt(path)
	require.NoError(t, err)
	defer m.Close()

	data, err = m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))
}

func TestBoltMirror_CancelledContext(t *testing.T) {
	m, err := OpenBolt(filepath.Join(t.TempDir(), "v.bolt"))
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.Save(ctx, []byte("x")))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MirrorConfig
		wantErr bool
	}{
		{"none", config.MirrorConfig{Backend: config.MirrorNone}, false},
		{"bolt", config.MirrorConfig{Backend: config.MirrorBolt, Path: filepath.Join(t.TempDir(), "m.bolt")}, false},
		{"bolt without path", config.MirrorConfig{Backend: config.MirrorBolt}, true},
		{"redis without addr", config.MirrorConfig{Backend: config.MirrorRedis}, true},
		{"unknown", config.MirrorConfig{Backend: "s3"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, m.Close())
		})
	}
}

func TestRedisMirror(t *testing.T) {
	addr := os.Getenv("GASER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GASER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	m, err := NewRedis(addr, "", 0, "gaser:test:volatile")
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Save(ctx, []byte("blob")))
	data, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))
}
