package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Host modes select which backend answers voice-assistant requests.
const (
	// ModeLocal serves requests from the in-process entity registry.
	ModeLocal = "local"

	// ModeREST forwards requests to a remote REST shim named inside the access token.
	ModeREST = "rest"
)

// Config is the root configuration structure for geniebridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
	Genie        GenieConfig        `yaml:"genie"`
	Entities     EntitiesConfig     `yaml:"entities"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the state_changed event stream.
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
	Output string `yaml:"output"`
}

// SecurityConfig contains token and account settings.
type SecurityConfig struct {
	JWT   JWTConfig    `yaml:"jwt"`
	Users []UserConfig `yaml:"users"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// TokenTTLHours is the lifetime of tokens handed to the voice platform.
	// The platform does not refresh reliably, so the default is one year.
	TokenTTLHours int `yaml:"token_ttl_hours"`
}

// UserConfig is an account allowed to link the voice platform.
// PasswordHash is an argon2id PHC string (see `geniebridge hash-password`).
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// GenieConfig contains voice-assistant endpoint settings.
type GenieConfig struct {
	// Mode is "local" or "rest".
	Mode string `yaml:"mode"`

	// AllowRESTTokens lets a local-mode bridge also accept REST descriptor tokens.
	AllowRESTTokens bool `yaml:"allow_rest_tokens"`

	// CheckAlias forces alias validation during discovery regardless of token case.
	CheckAlias bool `yaml:"check_alias"`

	// Timeout is the outbound HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`

	PlaceListURL string `yaml:"place_list_url"`
	AliasListURL string `yaml:"alias_list_url"`
	Brand        string `yaml:"brand"`
	Icon         string `yaml:"icon"`
}

// EntitiesConfig points at the YAML seed file for static entities and groups.
type EntitiesConfig struct {
	SeedFile string `yaml:"seed_file"`
}

// IntegrationsConfig contains the bundled device integrations.
type IntegrationsConfig struct {
	KNX            KNXConfig       `yaml:"knx"`
	SensorTags     []SensorTag     `yaml:"sensortag"`
	WaterPurifiers []WaterPurifier `yaml:"water_purifier"`
	Scripts        ScriptsConfig   `yaml:"scripts"`
}

// KNXConfig contains the knxd connection and the climate devices behind it.
type KNXConfig struct {
	Enabled bool `yaml:"enabled"`

	// Connection is a knxd URL: "tcp://localhost:6720" or "unix:///run/knxd".
	Connection string          `yaml:"connection"`
	Climates   []ClimateConfig `yaml:"climates"`
}

// ClimateConfig describes one KTS climate device by its group addresses.
type ClimateConfig struct {
	Name string `yaml:"name"`

	TemperatureAddress            string `yaml:"temperature_address"`
	TargetTemperatureAddress      string `yaml:"target_temperature_address"`
	TargetTemperatureStateAddress string `yaml:"target_temperature_state_address"`
	OperationModeAddress          string `yaml:"operation_mode_address"`
	OperationModeStateAddress     string `yaml:"operation_mode_state_address"`
	FanModeAddress                string `yaml:"fan_mode_address"`
	FanModeStateAddress           string `yaml:"fan_mode_state_address"`
	OnOffAddress                  string `yaml:"on_off_address"`
	OnOffStateAddress             string `yaml:"on_off_state_address"`

	TargetTemperatureStep float64 `yaml:"target_temperature_step"`
	MinTemp               float64 `yaml:"min_temp"`
	MaxTemp               float64 `yaml:"max_temp"`
}

// SensorTag configures one TI SensorTag behind the BLE gateway.
type SensorTag struct {
	MAC                 string   `yaml:"mac"`
	Name                string   `yaml:"name"`
	MonitoredConditions []string `yaml:"monitored_conditions"`
	Median              int      `yaml:"median"`
	ScanInterval        int      `yaml:"scan_interval"`
	ForceUpdate         bool     `yaml:"force_update"`
}

// WaterPurifier configures one Xiaomi water purifier behind the miio gateway.
type WaterPurifier struct {
	Host         string `yaml:"host"`
	Name         string `yaml:"name"`
	ScanInterval int    `yaml:"scan_interval"`
}

// ScriptsConfig toggles built-in scripts.
type ScriptsConfig struct {
	TurnOffLights bool `yaml:"turn_off_lights"`
}

// Integration defaults.
const (
	defaultScanInterval   = 1200
	defaultMedian         = 3
	defaultTargetTempStep = 0.5
	defaultMinTemp        = 5
	defaultMaxTemp        = 30
	defaultSensorTagName  = "SensorTag"
	defaultPurifierName   = "Water Purifier"
	defaultKNXDConnection = "tcp://localhost:6720"
	defaultPlaceListURL   = "https://open.bot.tmall.com/oauth/api/placelist"
	defaultAliasListURL   = "https://open.bot.tmall.com/oauth/api/aliaslist"
	defaultBrand          = "HomeAssistant"
	defaultIcon           = "https://home-assistant.io/images/favicon-192x192.png"
	defaultTokenTTLHours  = 8760
	minJWTSecretLength    = 32
)

// SensorTagConditions lists the sensor kinds a SensorTag may monitor.
var SensorTagConditions = []string{"temperature", "illuminance", "humidity", "pressure", "battery"}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Per-integration defaults for list entries
//
// Environment variables follow the pattern GENIEBRIDGE_SECTION_KEY,
// for example GENIEBRIDGE_DATABASE_PATH or GENIEBRIDGE_GENIE_MODE.
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
	applyIntegrationDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "home",
			Name:     "Home",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/geniebridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "geniebridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8123,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/websocket",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTLHours: defaultTokenTTLHours,
			},
		},
		Genie: GenieConfig{
			Mode:         ModeLocal,
			Timeout:      3,
			PlaceListURL: defaultPlaceListURL,
			AliasListURL: defaultAliasListURL,
			Brand:        defaultBrand,
			Icon:         defaultIcon,
		},
		Integrations: IntegrationsConfig{
			KNX: KNXConfig{
				Connection: defaultKNXDConnection,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GENIEBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GENIEBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GENIEBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GENIEBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GENIEBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GENIEBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GENIEBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GENIEBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	if v := os.Getenv("GENIEBRIDGE_GENIE_MODE"); v != "" {
		cfg.Genie.Mode = strings.ToLower(v)
	}

	if v := os.Getenv("GENIEBRIDGE_KNX_CONNECTION"); v != "" {
		cfg.Integrations.KNX.Connection = v
	}
}

// applyIntegrationDefaults fills zero values in list entries, which YAML
// cannot default because each entry starts from its zero value.
func applyIntegrationDefaults(cfg *Config) {
	for i := range cfg.Integrations.KNX.Climates {
		c := &cfg.Integrations.KNX.Climates[i]
		if c.TargetTemperatureStep == 0 {
			c.TargetTemperatureStep = defaultTargetTempStep
		}
		if c.MinTemp == 0 {
			c.MinTemp = defaultMinTemp
		}
		if c.MaxTemp == 0 {
			c.MaxTemp = defaultMaxTemp
		}
	}

	for i := range cfg.Integrations.SensorTags {
		s := &cfg.Integrations.SensorTags[i]
		if s.Name == "" {
			s.Name = defaultSensorTagName
		}
		if s.Median == 0 {
			s.Median = defaultMedian
		}
		if s.ScanInterval == 0 {
			s.ScanInterval = defaultScanInterval
		}
		if len(s.MonitoredConditions) == 0 {
			s.MonitoredConditions = append([]string(nil), SensorTagConditions...)
		}
	}

	for i := range cfg.Integrations.WaterPurifiers {
		p := &cfg.Integrations.WaterPurifiers[i]
		if p.Name == "" {
			p.Name = defaultPurifierName
		}
		if p.ScanInterval == 0 {
			p.ScanInterval = defaultScanInterval
		}
	}
}

// Validate checks the configuration for errors and security issues.
// All problems are collected so a single run reports everything.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Genie.Mode {
	case ModeLocal:
		// Local mode issues and validates its own tokens.
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required in local mode (set GENIEBRIDGE_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	case ModeREST:
	default:
		errs = append(errs, fmt.Sprintf("genie.mode must be %q or %q, got %q", ModeLocal, ModeREST, c.Genie.Mode))
	}

	if c.Genie.Timeout <= 0 {
		errs = append(errs, "genie.timeout must be positive")
	}
	if c.Genie.PlaceListURL == "" {
		errs = append(errs, "genie.place_list_url is required")
	}

	for i, u := range c.Security.Users {
		if u.Username == "" {
			errs = append(errs, fmt.Sprintf("security.users[%d].username is required", i))
		}
		if !strings.HasPrefix(u.PasswordHash, "$argon2id$") {
			errs = append(errs, fmt.Sprintf("security.users[%d].password_hash must be an argon2id hash", i))
		}
	}

	errs = append(errs, c.validateIntegrations()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateIntegrations checks ranges mirrored from the device datasheets.
func (c *Config) validateIntegrations() []string {
	var errs []string

	knx := c.Integrations.KNX
	if knx.Enabled && knx.Connection == "" {
		errs = append(errs, "integrations.knx.connection is required when knx is enabled")
	}
	for i, cl := range knx.Climates {
		prefix := fmt.Sprintf("integrations.knx.climates[%d]", i)
		if cl.Name == "" {
			errs = append(errs, prefix+".name is required")
		}
		if cl.TemperatureAddress == "" {
			errs = append(errs, prefix+".temperature_address is required")
		}
		if cl.TargetTemperatureAddress == "" {
			errs = append(errs, prefix+".target_temperature_address is required")
		}
		if cl.TargetTemperatureStep < 0 || cl.TargetTemperatureStep > 2 {
			errs = append(errs, prefix+".target_temperature_step must be between 0 and 2")
		}
		if cl.MinTemp < 0 || cl.MinTemp > 15 {
			errs = append(errs, prefix+".min_temp must be between 0 and 15")
		}
		if cl.MaxTemp < 15 || cl.MaxTemp > 35 {
			errs = append(errs, prefix+".max_temp must be between 15 and 35")
		}
	}

	for i, s := range c.Integrations.SensorTags {
		prefix := fmt.Sprintf("integrations.sensortag[%d]", i)
		if s.MAC == "" {
			errs = append(errs, prefix+".mac is required")
		}
		if s.Median < 1 {
			errs = append(errs, prefix+".median must be at least 1")
		}
		for _, cond := range s.MonitoredConditions {
			if !isSensorTagCondition(cond) {
				errs = append(errs, fmt.Sprintf("%s.monitored_conditions: unknown condition %q", prefix, cond))
			}
		}
	}

	for i, p := range c.Integrations.WaterPurifiers {
		if p.Host == "" {
			errs = append(errs, fmt.Sprintf("integrations.water_purifier[%d].host is required", i))
		}
	}

	return errs
}

func isSensorTagCondition(name string) bool {
	return lo.Contains(SensorTagConditions, name)
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

// GenieTimeout returns the outbound HTTP timeout for the voice endpoint.
func (c *Config) GenieTimeout() time.Duration {
	return time.Duration(c.Genie.Timeout) * time.Second
}

// TokenTTL returns the lifetime of issued voice-link tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.TokenTTLHours) * time.Hour
}
