package models

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/R3DPanda1/LWN-Node/node/logging"
)

// EnvPrefix prefixes environment overrides, e.g. LWN_NODE__DEVEUI.
const EnvPrefix = "LWN"

// EventsConfig holds history retention settings for the event broker.
type EventsConfig struct {
	HistoryPerTopic int `json:"historyPerTopic"`
}

// NodeConfig describes the LoRaWAN node. Credentials are hex strings.
type NodeConfig struct {
	Activation   string `json:"activation"` // "otaa" or "abp"
	DevEUI       string `json:"devEUI"`
	JoinEUI      string `json:"joinEUI"`
	AppKey       string `json:"appKey"`
	DevAddr      string `json:"devAddr"`
	NwkSKey      string `json:"nwkSKey"`
	AppSKey      string `json:"appSKey"`
	Class        string `json:"class"`  // A, B or C
	Region       string `json:"region"` // EU868, US915, AU915, CN470
	DataRate     int    `json:"dataRate"`
	EIRP         int    `json:"eirp"`
	ADR          bool   `json:"adr"`
	DutyCycle    bool   `json:"dutyCycle"`
	SubBand      int    `json:"subBand"` // 0 keeps the region default
	Port         uint8  `json:"port"`
	Confirmed    bool   `json:"confirmed"`
	Payload      string `json:"payload"`      // hex, sent on every tick
	SendInterval string `json:"sendInterval"` // Go duration, e.g. "30s"
	RetainedDir  string `json:"retainedDir"`  // empty disables retained masks

	Codec       string                 `json:"codec"`       // path to a JavaScript payload codec
	CodecObject map[string]interface{} `json:"codecObject"` // encoded on every tick when Payload is empty; keys arrive lower-cased
}

// RadioConfig describes the raw radio path over the UDP air link.
type RadioConfig struct {
	Enable       bool   `json:"enable"`
	LocalAddress string `json:"localAddress"`
	PeerAddress  string `json:"peerAddress"`
	Frequency    uint32 `json:"frequency"`
	SF           int    `json:"sf"`
	BW           int    `json:"bw"` // kHz
	EIRP         int    `json:"eirp"`
	Key          string `json:"key"` // hex AES-128 key, empty disables encryption
}

// ServerConfig holds the configuration for the server including address, ports, and other settings.
type ServerConfig struct {
	Address     string         `json:"address"`     // Address to bind to (e.g., "localhost")
	Port        int            `json:"port"`        // Port to bind to (default is 8000)
	MetricsPort int            `json:"metricsPort"` // Port to bind to for metrics (default is 8081)
	AutoStart   bool           `json:"autoStart"`   // Start the node when the server starts
	Verbose     bool           `json:"verbose"`     // Flag to enable verbose logging
	Logging     logging.Config `json:"logging"`
	Events      EventsConfig   `json:"events"`
	Node        NodeConfig     `json:"node"`
	Radio       RadioConfig    `json:"radio"`
}

func defaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:        8000,
		MetricsPort: 8081,
		Node: NodeConfig{
			Activation: "otaa",
			Class:      "A",
			Region:     "EU868",
			EIRP:       16,
			Port:       1,
		},
		Radio: RadioConfig{SF: 7, BW: 125, EIRP: 16},
	}
}

// GetConfigFile loads the configuration from the specified file path (JSON,
// or any format viper detects from the extension), applies LWN_* environment
// overrides and returns a ServerConfig instance.
func GetConfigFile(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	bindEnvs(v, reflect.TypeOf(*config))
	err := v.Unmarshal(config, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return config, nil
}

// bindEnvs binds every leaf field to PREFIX_PATH__TO__FIELD. Bash does not
// allow dots in variable names.
func bindEnvs(v *viper.Viper, t reflect.Type, parts ...string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" {
			name = f.Name
		}
		if name == "-" {
			continue
		}
		path := append(append([]string{}, parts...), name)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, path...)
			continue
		}
		env := EnvPrefix + "_" + strings.ToUpper(strings.Join(path, "__"))
		_ = v.BindEnv(strings.Join(path, "."), env)
	}
}
