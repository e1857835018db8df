package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	domainconfig "ideaflow/domain/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func writePolicy(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadPolicy_OverlaysPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, "strong_threshold_percent: 75\nconsensus_cooldown: 45s\n")

	policy, err := LoadPolicy("production", path)
	require.NoError(t, err)
	assert.Equal(t, 75, policy.StrongThresholdPercent)
	assert.Equal(t, 45*time.Second, policy.ConsensusCooldown)
	assert.Equal(t, 90*time.Second, policy.PlanTimeout, "preset values survive")
}

func TestLoadPolicy_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "strong_treshold_percent: 75\n"},
		{"invalid policy", "weak_threshold_percent: 95\n"},
		{"malformed yaml", "strong_threshold_percent: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			writePolicy(t, path, tt.body)
			_, err := LoadPolicy("", path)
			assert.Error(t, err)
		})
	}

	_, err := LoadPolicy("", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadPolicy_NoFileUsesPreset(t *testing.T) {
	policy, err := LoadPolicy("development", "")
	require.NoError(t, err)
	assert.Equal(t, domainconfig.DevelopmentDomainConfig(), policy)
}

func TestApplyPolicyOverlay_EmptyDocument(t *testing.T) {
	policy := domainconfig.DefaultDomainConfig()
	require.NoError(t, ApplyPolicyOverlay(policy, []byte("  \n")))
	assert.Equal(t, domainconfig.DefaultDomainConfig(), policy)
}

func TestPolicyWatcher_ReloadsIntoHolder(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	writePolicy(t, path, "weak_threshold_percent: 50\n")
	holder := domainconfig.NewHolder(nil)

	w, err := NewPolicyWatcher(path, "", holder, zap.NewNop())
	require.NoError(t, err)
	reloaded := make(chan int, 4)
	w.OnReload(func(p *domainconfig.DomainConfig) { reloaded <- p.WeakThresholdPercent })
	w.Start()
	defer w.Stop()

	writePolicy(t, path, "weak_threshold_percent: 60\n")
	assert.Eventually(t, func() bool {
		return holder.Current().WeakThresholdPercent == 60
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 60, <-reloaded)

	writePolicy(t, path, "weak_threshold_percent: 99\n")
	time.Sleep(3 * debounceDuration)
	assert.Equal(t, 60, holder.Current().WeakThresholdPercent, "invalid policy is ignored")

	w.Stop()
}
