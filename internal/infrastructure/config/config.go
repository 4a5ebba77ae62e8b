package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the cell controller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cell      CellConfig      `yaml:"cell"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	PLC       PLCConfig       `yaml:"plc"`
	Control   ControlConfig   `yaml:"control"`
	Security  SecurityConfig  `yaml:"security"`
}

// CellConfig identifies the automation cell this process controls.
type CellConfig struct {
	ID string `yaml:"id"`
	// EquipmentID selects the control-state row polled by the control loop.
	EquipmentID string `yaml:"equipment_id"`
	Name        string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// MaxBodyBytes bounds request bodies. Arm frames arrive through
	// write_send_arm_img, so this must fit a full-resolution JPEG.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is "stdout", "stderr" or "file".
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// PLCConfig describes the Modbus link to the conveyor PLC.
type PLCConfig struct {
	// Mode is "rtu" (serial) or "tcp".
	Mode    string        `yaml:"mode"`
	SlaveID int           `yaml:"slave_id"`
	Timeout time.Duration `yaml:"timeout"`

	TCP PLCTCPConfig `yaml:"tcp"`
	RTU PLCRTUConfig `yaml:"rtu"`

	Coils     CoilConfig     `yaml:"coils"`
	Registers RegisterConfig `yaml:"registers"`
	Connect   ConnectConfig  `yaml:"connect"`
}

// PLCTCPConfig contains Modbus TCP settings.
type PLCTCPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PLCRTUConfig contains Modbus RTU serial line settings.
type PLCRTUConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`
}

// CoilConfig maps each logical coil to its PLC address.
// These must match the PLC program bit for bit.
type CoilConfig struct {
	ConveyorSensor int `yaml:"conveyor_sensor"`
	RobotArmSensor int `yaml:"robot_arm_sensor"`
	NG             int `yaml:"ng"`
	OK             int `yaml:"ok"`
	Move           int `yaml:"move"`
	Stop           int `yaml:"stop"`
	Forward        int `yaml:"forward"`
	Reverse        int `yaml:"reverse"`
	Restart        int `yaml:"restart"`
}

// RegisterConfig maps each holding register to its PLC address.
type RegisterConfig struct {
	Frequency    int `yaml:"frequency"`
	Acceleration int `yaml:"acceleration"`
	Deceleration int `yaml:"deceleration"`
	AnomalyFlag  int `yaml:"anomaly_flag"`
}

// ConnectConfig bounds connection attempts to the PLC.
type ConnectConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ControlConfig holds the timing and policy knobs of the coordination engine.
type ControlConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	SensorPollInterval time.Duration `yaml:"sensor_poll_interval"`
	ResetDelay         time.Duration `yaml:"reset_delay"`
	ReadyStateSettle   time.Duration `yaml:"ready_state_settle"`
	AnomalyPulse       time.Duration `yaml:"anomaly_pulse"`
	DirectionPulse     time.Duration `yaml:"direction_pulse"`

	// ResetPolicy is "supersede" or "overlap".
	ResetPolicy string `yaml:"reset_policy"`
	// PulsePolicy is "join", "supersede" or "overlap".
	PulsePolicy string `yaml:"pulse_policy"`

	HealthInterval time.Duration `yaml:"health_interval"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL is in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CELLCORE_SECTION_KEY
// For example: CELLCORE_DATABASE_PATH, CELLCORE_PLC_DEVICE
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config matching the reference conveyor cell.
func defaultConfig() *Config {
	return &Config{
		Cell: CellConfig{
			ID:          "cell-01",
			EquipmentID: "CONVEYOR01",
			Name:        "Conveyor Cell",
		},
		Database: DatabaseConfig{
			Path:        "./data/cellcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cellcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxBodyBytes: 16 << 20,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		PLC: PLCConfig{
			Mode:    "rtu",
			SlaveID: 3,
			Timeout: time.Second,
			TCP: PLCTCPConfig{
				Port: 502,
			},
			RTU: PLCRTUConfig{
				Device:   "/dev/ttyUSB0",
				BaudRate: 115200,
				DataBits: 8,
				Parity:   "N",
				StopBits: 1,
			},
			Coils: CoilConfig{
				ConveyorSensor: 64,
				RobotArmSensor: 65,
				NG:             66,
				OK:             67,
				Move:           68,
				Stop:           0,
				Forward:        1,
				Reverse:        2,
				Restart:        3,
			},
			Registers: RegisterConfig{
				Frequency:    0,
				Acceleration: 2,
				Deceleration: 3,
				AnomalyFlag:  80,
			},
			Connect: ConnectConfig{
				MaxAttempts:   5,
				RetryDelay:    5 * time.Second,
				CheckInterval: 10 * time.Second,
			},
		},
		Control: ControlConfig{
			PollInterval:       200 * time.Millisecond,
			SensorPollInterval: 200 * time.Millisecond,
			ResetDelay:         3 * time.Second,
			ReadyStateSettle:   300 * time.Millisecond,
			AnomalyPulse:       time.Second,
			DirectionPulse:     50 * time.Millisecond,
			ResetPolicy:        "supersede",
			PulsePolicy:        "join",
			HealthInterval:     30 * time.Second,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CELLCORE_CELL_ID"); v != "" {
		cfg.Cell.ID = v
	}
	if v := os.Getenv("CELLCORE_EQUIPMENT_ID"); v != "" {
		cfg.Cell.EquipmentID = v
	}

	if v := os.Getenv("CELLCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CELLCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CELLCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CELLCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CELLCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("CELLCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// PLC link
	if v := os.Getenv("CELLCORE_PLC_MODE"); v != "" {
		cfg.PLC.Mode = v
	}
	if v := os.Getenv("CELLCORE_PLC_DEVICE"); v != "" {
		cfg.PLC.RTU.Device = v
	}
	if v := os.Getenv("CELLCORE_PLC_HOST"); v != "" {
		cfg.PLC.TCP.Host = v
	}
	if v := os.Getenv("CELLCORE_PLC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.PLC.TCP.Port = port
		}
	}

	if v := os.Getenv("CELLCORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Cell.ID == "" {
		errs = append(errs, "cell.id is required")
	}
	if c.Cell.EquipmentID == "" {
		errs = append(errs, "cell.equipment_id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.MaxBodyBytes < 0 {
		errs = append(errs, "api.max_body_bytes must not be negative")
	}

	errs = append(errs, c.PLC.validate()...)
	errs = append(errs, c.Control.validate()...)

	// Anyone holding a forged token could drive the conveyor.
	const minJWTSecretLength = 32
	if c.API.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required (set CELLCORE_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (p *PLCConfig) validate() []string {
	var errs []string

	switch p.Mode {
	case "rtu":
		if p.RTU.Device == "" {
			errs = append(errs, "plc.rtu.device is required in rtu mode")
		}
		if p.RTU.BaudRate <= 0 {
			errs = append(errs, "plc.rtu.baud_rate must be positive")
		}
		switch p.RTU.Parity {
		case "N", "E", "O":
		default:
			errs = append(errs, "plc.rtu.parity must be N, E, or O")
		}
	case "tcp":
		if p.TCP.Host == "" {
			errs = append(errs, "plc.tcp.host is required in tcp mode")
		}
		if p.TCP.Port < 1 || p.TCP.Port > 65535 {
			errs = append(errs, "plc.tcp.port must be between 1 and 65535")
		}
	default:
		errs = append(errs, fmt.Sprintf("plc.mode %q must be rtu or tcp", p.Mode))
	}

	if p.SlaveID < 0 || p.SlaveID > 247 {
		errs = append(errs, "plc.slave_id must be between 0 and 247")
	}
	if p.Connect.MaxAttempts < 1 {
		errs = append(errs, "plc.connect.max_attempts must be at least 1")
	}

	// Output coils drive mutually exclusive PLC inputs; sharing an address
	// would make a sequence clear what it just set.
	outputs := map[string]int{
		"ng":      p.Coils.NG,
		"ok":      p.Coils.OK,
		"move":    p.Coils.Move,
		"stop":    p.Coils.Stop,
		"forward": p.Coils.Forward,
		"reverse": p.Coils.Reverse,
		"restart": p.Coils.Restart,
	}
	seen := make(map[int]string, len(outputs))
	for _, name := range []string{"ng", "ok", "move", "stop", "forward", "reverse", "restart"} {
		addr := outputs[name]
		if addr < 0 || addr > 0xFFFF {
			errs = append(errs, fmt.Sprintf("plc.coils.%s address %d out of range", name, addr))
			continue
		}
		if other, ok := seen[addr]; ok {
			errs = append(errs, fmt.Sprintf("plc.coils.%s shares address %d with %s", name, addr, other))
			continue
		}
		seen[addr] = name
	}

	return errs
}

func (c *ControlConfig) validate() []string {
	var errs []string

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"control.poll_interval", c.PollInterval},
		{"control.sensor_poll_interval", c.SensorPollInterval},
		{"control.reset_delay", c.ResetDelay},
		{"control.anomaly_pulse", c.AnomalyPulse},
		{"control.direction_pulse", c.DirectionPulse},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, d.name+" must be positive")
		}
	}
	if c.ReadyStateSettle < 0 {
		errs = append(errs, "control.ready_state_settle must not be negative")
	}

	switch c.ResetPolicy {
	case "supersede", "overlap":
	default:
		errs = append(errs, fmt.Sprintf("control.reset_policy %q must be supersede or overlap", c.ResetPolicy))
	}
	switch c.PulsePolicy {
	case "join", "supersede", "overlap":
	default:
		errs = append(errs, fmt.Sprintf("control.pulse_policy %q must be join, supersede, or overlap", c.PulsePolicy))
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetAccessTokenTTL returns the JWT access token lifetime.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// PLCAddress returns the dial address for the configured PLC mode.
func (p *PLCConfig) PLCAddress() string {
	if p.Mode == "tcp" {
		return fmt.Sprintf("%s:%d", p.TCP.Host, p.TCP.Port)
	}
	return p.RTU.Device
}
