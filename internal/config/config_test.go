package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"mini-spark/internal/common"
)

func TestLoadMasterDefaults(t *testing.T) {
	m := LoadMaster("")
	assert.Equal(t, ":8080", m.BindAddr)
	assert.Equal(t, common.DefaultDeadTimeoutMS, m.DeadTimeoutMS)
	assert.Equal(t, common.DefaultMaxAttempts, m.MaxAttempts)
}

func TestLoadMasterEnvOverridesDefault(t *testing.T) {
	t.Setenv("BIND_ADDR", ":9090")
	t.Setenv("MAX_ATTEMPTS", "7")

	m := LoadMaster("")
	assert.Equal(t, ":9090", m.BindAddr)
	assert.Equal(t, 7, m.MaxAttempts)
}

func TestLoadWorkerDefaults(t *testing.T) {
	w := LoadWorker("")
	assert.Equal(t, "http://localhost:8080", w.MasterURL)
	assert.Equal(t, common.DefaultWorkerSlots(), w.Slots)
	assert.Equal(t, common.DefaultMaxInMemKeys, w.MaxInMemKeys)
}

func TestLoadWorkerEnvOverridesDefault(t *testing.T) {
	t.Setenv("WORKER_SLOTS", "16")
	t.Setenv("WORKER_ADDR", "http://10.0.0.5:9001")

	w := LoadWorker("")
	assert.Equal(t, 16, w.Slots)
	assert.Equal(t, "http://10.0.0.5:9001", w.Addr)
}

func TestLoadMasterConfigFileOverridesDefaultButEnvWins(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "master-*.yaml")
	assert.NoError(t, err)
	_, err = f.WriteString("bind_addr: \":7070\"\nmax_attempts: 5\n")
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	t.Setenv("MAX_ATTEMPTS", "9")

	m := LoadMaster(f.Name())
	assert.Equal(t, ":7070", m.BindAddr, "file overrides default")
	assert.Equal(t, 9, m.MaxAttempts, "env overrides file")
}
