package emberql

import (
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ExecutionMode selects how the session's job runner is built (§6).
type ExecutionMode string

const (
	ModeLocal   ExecutionMode = "local"
	ModeCluster ExecutionMode = "cluster"
)

// Config is a resolved snapshot of the environment inputs in spec.md §6.
// A Session keeps one of these (its "config snapshot"); the Scheduler and
// Dispatcher each read their own slice of it.
type Config struct {
	ExecutionMode ExecutionMode

	DriverListenHost   string
	DriverListenPort   int
	DriverExternalHost string
	DriverExternalPort int

	WorkerInitialCount int
	WorkerMaxCount     int
	WorkerTaskSlots    int

	WorkerHeartbeatInterval time.Duration
	WorkerLossThreshold     time.Duration
	WorkerIdleThreshold     time.Duration

	SessionIdleTimeout time.Duration

	BatchSize int

	ReattachBufferCapacity int
	ReattachHeartbeat      time.Duration

	MaxTaskAttempts  int
	ShuffleBufferCap int
	TransportBufDepth int

	MaxInboundMessageBytes int
}

// LoadConfig reads the "emberrc" config file plus EMBER_-prefixed
// environment overrides, the way the teacher's loadConfig/setupDefaults
// pair reads "corralrc" plus CORRAL_-prefixed overrides.
func LoadConfig() *Config {
	viper.SetConfigName("emberrc")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.emberql")

	setupDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Debugf("config read: %+v", err)
	}

	viper.SetEnvPrefix("ember")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return &Config{
		ExecutionMode:           ExecutionMode(viper.GetString("execution.mode")),
		DriverListenHost:        viper.GetString("cluster.driver_listen_host"),
		DriverListenPort:        viper.GetInt("cluster.driver_listen_port"),
		DriverExternalHost:      viper.GetString("cluster.driver_external_host"),
		DriverExternalPort:      viper.GetInt("cluster.driver_external_port"),
		WorkerInitialCount:      viper.GetInt("cluster.worker_initial_count"),
		WorkerMaxCount:          viper.GetInt("cluster.worker_max_count"),
		WorkerTaskSlots:         viper.GetInt("cluster.worker_task_slots"),
		WorkerHeartbeatInterval: viper.GetDuration("cluster.worker_heartbeat_interval"),
		WorkerLossThreshold:     viper.GetDuration("cluster.worker_loss_threshold"),
		WorkerIdleThreshold:     viper.GetDuration("cluster.worker_idle_threshold"),
		SessionIdleTimeout:      viper.GetDuration("session.idle_timeout"),
		BatchSize:               viper.GetInt("execution.batch_size"),
		ReattachBufferCapacity:  viper.GetInt("reattach.buffer_capacity"),
		ReattachHeartbeat:       viper.GetDuration("reattach.heartbeat_interval"),
		MaxTaskAttempts:         viper.GetInt("execution.max_task_attempts"),
		ShuffleBufferCap:        viper.GetInt("cluster.shuffle_buffer_batches"),
		TransportBufDepth:       viper.GetInt("transport.buffer_depth"),
		MaxInboundMessageBytes:  viper.GetInt("client.max_inbound_message_bytes"),
	}
}

func setupDefaults() {
	defaults := map[string]interface{}{
		"execution.mode":                     "local",
		"cluster.driver_listen_host":         "0.0.0.0",
		"cluster.driver_listen_port":         15001,
		"cluster.driver_external_host":       "127.0.0.1",
		"cluster.driver_external_port":       15001,
		"cluster.worker_initial_count":       1,
		"cluster.worker_max_count":           8,
		"cluster.worker_task_slots":          4,
		"cluster.worker_heartbeat_interval":  "10s",
		"cluster.worker_loss_threshold":      "30s",
		"cluster.worker_idle_threshold":      "2m",
		"cluster.shuffle_buffer_batches":     64,
		"session.idle_timeout":               "1h",
		"execution.batch_size":               4096,
		"execution.max_task_attempts":        4,
		"reattach.buffer_capacity":           1024,
		"reattach.heartbeat_interval":        "30s",
		"transport.buffer_depth":             32,
		"client.max_inbound_message_bytes":   128 * 1024 * 1024,
	}
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
}
