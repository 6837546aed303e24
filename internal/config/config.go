// Package config layers mini-spark's configuration the way cuemby/warren
// and hrygo/divinesense do: built-in defaults, an optional YAML file, then
// environment variables, merged with github.com/spf13/viper.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"mini-spark/internal/common"
)

// Master holds every BIND_ADDR/DEAD_TIMEOUT_MS/... knob.
type Master struct {
	BindAddr      string `mapstructure:"bind_addr"`
	DeadTimeoutMS int    `mapstructure:"dead_timeout_ms"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	TaskTimeoutMS int    `mapstructure:"task_timeout_ms"`
	HeartbeatMS   int    `mapstructure:"heartbeat_ms"`
}

// Worker holds every MASTER_URL/WORKER_SLOTS/... knob.
type Worker struct {
	MasterURL    string `mapstructure:"master_url"`
	Addr         string `mapstructure:"addr"`
	Slots        int    `mapstructure:"slots"`
	MaxInMemKeys int    `mapstructure:"max_in_mem_keys"`
	TmpDir       string `mapstructure:"tmp_dir"`
	HeartbeatMS  int    `mapstructure:"heartbeat_ms"`
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		_ = v.ReadInConfig() // a missing/absent file falls back to defaults+env
	}
	return v
}

// LoadMaster builds Master config: defaults, then configFile (if non-empty),
// then env vars BIND_ADDR/DEAD_TIMEOUT_MS/MAX_ATTEMPTS/TASK_TIMEOUT_MS.
func LoadMaster(configFile string) Master {
	v := newViper(configFile)
	v.SetDefault("bind_addr", ":8080")
	v.SetDefault("dead_timeout_ms", common.DefaultDeadTimeoutMS)
	v.SetDefault("max_attempts", common.DefaultMaxAttempts)
	v.SetDefault("task_timeout_ms", common.DefaultTaskTimeoutMS)
	v.SetDefault("heartbeat_ms", common.DefaultHeartbeatMS)

	bindEnv(v, "bind_addr", "BIND_ADDR")
	bindEnv(v, "dead_timeout_ms", "DEAD_TIMEOUT_MS")
	bindEnv(v, "max_attempts", "MAX_ATTEMPTS")
	bindEnv(v, "task_timeout_ms", "TASK_TIMEOUT_MS")
	bindEnv(v, "heartbeat_ms", "HEARTBEAT_MS")

	var m Master
	_ = v.Unmarshal(&m)
	return m
}

// LoadWorker builds Worker config: defaults, then configFile (if non-empty),
// then env vars MASTER_URL/WORKER_SLOTS/MAX_IN_MEM_KEYS/TMP_DIR/HEARTBEAT_MS.
func LoadWorker(configFile string) Worker {
	v := newViper(configFile)
	v.SetDefault("master_url", "http://localhost:8080")
	v.SetDefault("addr", "")
	v.SetDefault("slots", common.DefaultWorkerSlots())
	v.SetDefault("max_in_mem_keys", common.DefaultMaxInMemKeys)
	v.SetDefault("tmp_dir", "/data/tmp")
	v.SetDefault("heartbeat_ms", common.DefaultHeartbeatMS)

	bindEnv(v, "master_url", "MASTER_URL")
	bindEnv(v, "addr", "WORKER_ADDR")
	bindEnv(v, "slots", "WORKER_SLOTS")
	bindEnv(v, "max_in_mem_keys", "MAX_IN_MEM_KEYS")
	bindEnv(v, "tmp_dir", "TMP_DIR")
	bindEnv(v, "heartbeat_ms", "HEARTBEAT_MS")

	var w Worker
	_ = v.Unmarshal(&w)
	return w
}

func bindEnv(v *viper.Viper, key, env string) {
	_ = v.BindEnv(key, env)
}
