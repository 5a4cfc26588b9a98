package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "huginn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFixture(t, `
supported_pairs:
  - base: BTC
    quote: USDT
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.001", cfg.FeeRate)
	assert.Equal(t, "fifo", cfg.MatchingAlgorithm)
	assert.Equal(t, 20, cfg.BookSnapshotDefaultDepth)
	assert.Equal(t, "huginn.sqlite", cfg.Storage.DSN)
	assert.Equal(t, "0.0.0.0:9001", cfg.Transport.ListenAddress)
	require.Len(t, cfg.SupportedPairs, 1)
	assert.Equal(t, "BTC", cfg.SupportedPairs[0].Base)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	path := writeFixture(t, `
supported_pairs:
  - base: BTC
    quote: USDT
`)
	t.Setenv("HUGINN_STORAGE_DSN", "postgres://test/huginn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://test/huginn", cfg.Storage.DSN)
}

func TestValidateRejectsEmptyPairs(t *testing.T) {
	cfg := &Config{MatchingAlgorithm: "fifo", BookSnapshotDefaultDepth: 20, Storage: StorageConfig{DSN: "x"}, Transport: TransportConfig{ListenAddress: "x"}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownAlgorithm(t *testing.T) {
	cfg := &Config{
		SupportedPairs:           []PairConfig{{Base: "BTC", Quote: "USDT"}},
		MatchingAlgorithm:        "tournament",
		BookSnapshotDefaultDepth: 20,
		Storage:                  StorageConfig{DSN: "x"},
		Transport:                TransportConfig{ListenAddress: "x"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		SupportedPairs:           []PairConfig{{Base: "BTC", Quote: "USDT"}},
		MatchingAlgorithm:        "PRORATA",
		BookSnapshotDefaultDepth: 20,
		Storage:                  StorageConfig{DSN: "huginn.sqlite"},
		Transport:                TransportConfig{ListenAddress: "0.0.0.0:9001"},
	}
	assert.NoError(t, cfg.Validate())
}
