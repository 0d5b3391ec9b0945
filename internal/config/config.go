package config

import (
	"time"

	"github.com/google/uuid"

	pkgconfig "github.com/weiawesome/wes-io-live/call-service/pkg/config"
	"github.com/weiawesome/wes-io-live/call-service/pkg/database"
	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
	"github.com/weiawesome/wes-io-live/call-service/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  database.Config
	PubSub    pubsub.Config
	Kafka     KafkaConfig
	Room      RoomConfig
	Relay     RelayConfig
	WebRTC    WebRTCConfig
	Log       pkglog.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// AuthConfig controls how connections are bound to a user. With Required
// unset, the first signaling or chat event may claim an identity.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Required bool
}

// KafkaConfig configures the activity event producer.
type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

type RoomConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RelayConfig struct {
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

type WebRTCConfig struct {
	ICEServers []ICEServerConfig `mapstructure:"ice_servers"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.required", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "call-service.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	ps := pubsub.DefaultConfig()
	v.SetDefault("pubsub.driver", ps.Driver)
	v.SetDefault("pubsub.redis.address", ps.Redis.Address)
	v.SetDefault("pubsub.redis.password", ps.Redis.Password)
	v.SetDefault("pubsub.redis.db", ps.Redis.DB)
	v.SetDefault("pubsub.redis.pool_size", ps.Redis.PoolSize)
	v.SetDefault("pubsub.redis.read_timeout", ps.Redis.ReadTimeout.String())
	v.SetDefault("pubsub.redis.write_timeout", ps.Redis.WriteTimeout.String())
	v.SetDefault("pubsub.kafka.brokers", ps.Kafka.Brokers)
	v.SetDefault("pubsub.kafka.group_id", ps.Kafka.GroupID)
	v.SetDefault("pubsub.kafka.partitions", ps.Kafka.Partitions)
	v.SetDefault("pubsub.kafka.topics", ps.Kafka.Topics)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "call-activity")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("room.sweep_interval", "1m")
	v.SetDefault("relay.persist_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "call-service")

	// Override from environment
	if err := pkgconfig.BindEnvs(v, map[string][]string{
		"server.port":           {"PORT"},
		"auth.secret":           {"JWT_SECRET"},
		"auth.required":         {"AUTH_REQUIRED"},
		"database.driver":       {"DB_DRIVER"},
		"database.host":         {"DB_HOST"},
		"database.port":         {"DB_PORT"},
		"database.user":         {"DB_USER"},
		"database.password":     {"DB_PASSWORD"},
		"database.dbname":       {"DB_NAME"},
		"database.file_path":    {"DB_FILE_PATH"},
		"pubsub.driver":         {"PUBSUB_DRIVER"},
		"pubsub.redis.address":  {"REDIS_ADDRESS"},
		"pubsub.redis.password": {"REDIS_PASSWORD"},
		"pubsub.kafka.brokers":  {"KAFKA_BROKERS"},
		"pubsub.kafka.group_id": {"KAFKA_PUBSUB_GROUP_ID"},
		"kafka.enabled":         {"KAFKA_ACTIVITY_ENABLED"},
		"kafka.brokers":         {"KAFKA_BROKERS"},
		"kafka.topic":           {"KAFKA_ACTIVITY_TOPIC"},
		"log.level":             {"LOG_LEVEL"},
	}); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.PubSub.Redis.ReadTimeout = pkgconfig.Duration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = pkgconfig.Duration(v, "pubsub.redis.write_timeout", 3*time.Second)
	cfg.Room.SweepInterval = pkgconfig.Duration(v, "room.sweep_interval", time.Minute)
	cfg.Relay.PersistTimeout = pkgconfig.Duration(v, "relay.persist_timeout", 5*time.Second)

	// Every instance needs its own consumer group to see every notification.
	if cfg.PubSub.Kafka.GroupID == "" {
		cfg.PubSub.Kafka.GroupID = "call-service-" + uuid.New().String()
	}

	return &cfg, nil
}

// DefaultWebSocketConfig returns the websocket defaults used by Load.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 65536,
		SendBuffer:     256,
	}
}
