package telemetry

import (
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseProfileTypes(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []pyroscope.ProfileType
		wantErr string
	}{
		{
			name: "empty profiles cpu",
			want: []pyroscope.ProfileType{pyroscope.ProfileCPU},
		},
		{
			name: "names are case insensitive",
			in:   []string{"CPU", " inuse_space ", "mutex_count"},
			want: []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileInuseSpace, pyroscope.ProfileMutexCount},
		},
		{
			name: "duplicates collapse",
			in:   []string{"goroutines", "cpu", "goroutines"},
			want: []pyroscope.ProfileType{pyroscope.ProfileGoroutines, pyroscope.ProfileCPU},
		},
		{
			name:    "unknown name",
			in:      []string{"cpu", "heap"},
			wantErr: `unknown profile type "heap"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProfileTypes(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasAny(t *testing.T) {
	types := []pyroscope.ProfileType{pyroscope.ProfileCPU, pyroscope.ProfileBlockCount}
	assert.True(t, hasAny(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration))
	assert.False(t, hasAny(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration))
	assert.Equal(t, 5, orFive(0))
	assert.Equal(t, 5, orFive(-1))
	assert.Equal(t, 10, orFive(10))
}

func TestStartProfiler_Disabled(t *testing.T) {
	p, err := StartProfiler(ProfilerConfig{ServerAddress: "http://localhost:4040"}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, p.Running())
	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
	assert.False(t, p.Running())
}

func TestStartProfiler_InvalidConfig(t *testing.T) {
	_, err := StartProfiler(ProfilerConfig{Enabled: true, ApplicationName: "collab-admin"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server address and application name are required")

	_, err = StartProfiler(ProfilerConfig{
		Enabled:         true,
		ServerAddress:   "http://localhost:4040",
		ApplicationName: "collab-admin",
		Types:           []string{"cpu", "threads"},
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown profile type "threads"`)
}

func TestProfiler_NilIsStopped(t *testing.T) {
	var p *Profiler
	assert.False(t, p.Running())
	assert.NoError(t, p.Stop())
}
