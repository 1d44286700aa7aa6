package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	SensorReal       = "real"
	SensorSimulation = "simulation"
)

type MQTTConfig struct {
	Server   string `json:"server" yaml:"server"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	ClientID string `json:"client_id" yaml:"client_id"`
	// StateTopic receives the composite reading as JSON.
	StateTopic string `json:"state_topic" yaml:"state_topic"`
	// DiscoveryTopic is a Home Assistant discovery topic; %s is replaced
	// by the quantity name (ph, orp, ec, temperature).
	DiscoveryTopic    string `json:"discovery_topic,omitempty" yaml:"discovery_topic,omitempty"`
	DiscoveryName     string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
	DiscoveryUniqueID string `json:"discovery_unique_id,omitempty" yaml:"discovery_unique_id,omitempty"`
}

type HistoryConfig struct {
	Path string `json:"path" yaml:"path"`
	// Retain caps the stored readings; 0 keeps everything.
	Retain int `json:"retain,omitempty" yaml:"retain,omitempty"`
}

type HTTPConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

type OutputConfig struct {
	Type       string         `json:"type" yaml:"type"`
	IntervalMs int            `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig    `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	History    *HistoryConfig `json:"history,omitempty" yaml:"history,omitempty"`
	HTTP       *HTTPConfig    `json:"http,omitempty" yaml:"http,omitempty"`
}

type I2CConfig struct {
	Bus string `json:"bus" yaml:"bus"`
	// PHAddress is the converter wired to the pH probe and temperature tap.
	PHAddress int `json:"ph_address" yaml:"ph_address"`
	// ORPECAddress is the converter wired to the ORP probe and EC legs.
	ORPECAddress int `json:"orp_ec_address" yaml:"orp_ec_address"`
}

type ADCConfig struct {
	Reference  float32 `json:"reference" yaml:"reference"`
	SampleRate int     `json:"sample_rate" yaml:"sample_rate"`
}

type RTDConfig struct {
	SPI string `json:"spi" yaml:"spi"`
	// Type is pt100 or pt1000.
	Type          string  `json:"type" yaml:"type"`
	Wires         int     `json:"wires" yaml:"wires"`
	ReferenceOhms float32 `json:"reference_ohms" yaml:"reference_ohms"`
	MainsHz       int     `json:"mains_hz" yaml:"mains_hz"`
}

type ECConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	DacSPI       string   `json:"dac_spi" yaml:"dac_spi"`
	DacReference float32  `json:"dac_reference" yaml:"dac_reference"`
	GainPins     []string `json:"gain_pins" yaml:"gain_pins"`
	PulsePins    []string `json:"pulse_pins" yaml:"pulse_pins"`
	PulseDuty    []string `json:"pulse_duty" yaml:"pulse_duty"`
	FrequencyHz  int      `json:"frequency_hz" yaml:"frequency_hz"`
	// InitialExcitation is the excitation amplitude each ranging pass starts at, in volts.
	InitialExcitation float32 `json:"initial_excitation" yaml:"initial_excitation"`
	// TargetVoltage is the cell voltage the final excitation aims for, in volts.
	TargetVoltage   float32 `json:"target_voltage" yaml:"target_voltage"`
	SettleMs        int     `json:"settle_ms" yaml:"settle_ms"`
	CellConstant    float32 `json:"cell_constant" yaml:"cell_constant"`
	TempCoefficient float32 `json:"temp_coefficient" yaml:"temp_coefficient"`
}

type FilterConfig struct {
	DtSeconds float32 `json:"dt_seconds" yaml:"dt_seconds"`
}

type Config struct {
	I2C    I2CConfig    `json:"i2c" yaml:"i2c"`
	ADC    ADCConfig    `json:"adc" yaml:"adc"`
	RTD    RTDConfig    `json:"rtd" yaml:"rtd"`
	EC     ECConfig     `json:"ec" yaml:"ec"`
	Filter FilterConfig `json:"filter" yaml:"filter"`
	// FallbackTemperature compensates pH and EC when the RTD read fails.
	FallbackTemperature float32        `json:"fallback_temperature" yaml:"fallback_temperature"`
	Outputs             []OutputConfig `json:"outputs" yaml:"outputs"`
	SensorType          string         `json:"sensor_type" yaml:"sensor_type"`
	IntervalMs          int            `json:"interval_ms" yaml:"interval_ms"`
}

func DefaultConfig() Config {
	return Config{
		I2C: I2CConfig{Bus: "1", PHAddress: 0x48, ORPECAddress: 0x49},
		ADC: ADCConfig{Reference: 2.048, SampleRate: 128},
		RTD: RTDConfig{SPI: "/dev/spidev0.0", Type: "pt100", Wires: 3, ReferenceOhms: 400, MainsHz: 60},
		EC: ECConfig{
			Enabled:           true,
			DacSPI:            "/dev/spidev0.1",
			DacReference:      2.048,
			GainPins:          []string{"GPIO5", "GPIO6", "GPIO13"},
			PulsePins:         []string{"GPIO12", "GPIO18", "GPIO19"},
			PulseDuty:         []string{"50%", "17%", "17%"},
			FrequencyHz:       94,
			InitialExcitation: 0.4,
			TargetVoltage:     0.1,
			SettleMs:          200,
			CellConstant:      1.0,
			TempCoefficient:   0.02,
		},
		Filter:              FilterConfig{DtSeconds: 1},
		FallbackTemperature: 20,
		Outputs:             []OutputConfig{{Type: "console", IntervalMs: 1000}},
		SensorType:          SensorReal,
		IntervalMs:          1000,
	}
}

// Flags holds the flag values bound by BindFlags.
type Flags struct {
	fs *pflag.FlagSet

	cfgPath         string
	i2cBus          string
	phAddress       string
	orpECAddress    string
	sampleRate      int
	reference       float32
	rtdSPI          string
	rtdType         string
	dacSPI          string
	outputs         string
	outputIntervals string
	mqttServer      string
	mqttUser        string
	mqttPass        string
	mqttClientID    string
	mqttTopic       string
	historyPath     string
	httpListen      string
	sensorType      string
	interval        int
	fallbackTemp    float32
	disableEC       bool
}

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.cfgPath, "config", "c", "", "Path to YAML or JSON config file")
	fs.StringVar(&f.i2cBus, "i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	fs.StringVar(&f.phAddress, "ph-address", "", "pH converter I2C address (decimal or 0x hex)")
	fs.StringVar(&f.orpECAddress, "orp-ec-address", "", "ORP/EC converter I2C address (decimal or 0x hex)")
	fs.IntVar(&f.sampleRate, "sample-rate", 0, "ADS1115 sample rate (SPS)")
	fs.Float32Var(&f.reference, "reference", 0, "ADS1115 full-scale range in volts")
	fs.StringVar(&f.rtdSPI, "rtd-spi", "", "MAX31865 SPI port")
	fs.StringVar(&f.rtdType, "rtd-type", "", "RTD type: pt100|pt1000")
	fs.StringVar(&f.dacSPI, "dac-spi", "", "MCP4921 SPI port")
	fs.StringVar(&f.outputs, "outputs", "", "Comma-separated outputs (console,mqtt,history,http)")
	fs.StringVar(&f.outputIntervals, "output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	fs.StringVar(&f.mqttServer, "mqtt-server", "", "MQTT server (tcp://host:port)")
	fs.StringVar(&f.mqttUser, "mqtt-user", "", "MQTT username")
	fs.StringVar(&f.mqttPass, "mqtt-pass", "", "MQTT password")
	fs.StringVar(&f.mqttClientID, "mqtt-client-id", "", "MQTT client id")
	fs.StringVar(&f.mqttTopic, "mqtt-topic", "", "MQTT state topic")
	fs.StringVar(&f.historyPath, "history-path", "", "bbolt file for the reading history")
	fs.StringVar(&f.httpListen, "http-listen", "", "HTTP API listen address")
	fs.StringVar(&f.sensorType, "sensor-type", "", "sensor type: real|simulation")
	fs.IntVar(&f.interval, "interval-ms", 0, "Read interval in ms")
	fs.Float32Var(&f.fallbackTemp, "fallback-temperature", 0, "Temperature in °C used when the RTD read fails")
	fs.BoolVar(&f.disableEC, "no-ec", false, "Skip the conductivity channel")
	return f
}

// Load reads the config file, if any, and applies the flags that were set
// on the command line. Flags override values present in the file.
func (f *Flags) Load() (Config, error) {
	cfg := DefaultConfig()

	if f.cfgPath != "" {
		b, err := os.ReadFile(f.cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(b); err != nil {
			return cfg, err
		}
	}

	changed := f.fs.Changed
	if changed("i2c-bus") {
		cfg.I2C.Bus = f.i2cBus
	}
	if changed("ph-address") {
		v, err := parseIntOrHex(f.phAddress)
		if err != nil {
			return cfg, fmt.Errorf("ph-address: %w", err)
		}
		cfg.I2C.PHAddress = v
	}
	if changed("orp-ec-address") {
		v, err := parseIntOrHex(f.orpECAddress)
		if err != nil {
			return cfg, fmt.Errorf("orp-ec-address: %w", err)
		}
		cfg.I2C.ORPECAddress = v
	}
	if changed("sample-rate") {
		cfg.ADC.SampleRate = f.sampleRate
	}
	if changed("reference") {
		cfg.ADC.Reference = f.reference
	}
	if changed("rtd-spi") {
		cfg.RTD.SPI = f.rtdSPI
	}
	if changed("rtd-type") {
		cfg.RTD.Type = f.rtdType
	}
	if changed("dac-spi") {
		cfg.EC.DacSPI = f.dacSPI
	}
	if changed("interval-ms") {
		cfg.IntervalMs = f.interval
	}
	if changed("outputs") {
		parts := parseCSV(f.outputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p, IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if changed("output-intervals") {
		intervals, err := parseKeyIntMap(f.outputIntervals)
		if err != nil {
			return cfg, fmt.Errorf("output-intervals: %w", err)
		}
		for i := range cfg.Outputs {
			if v, ok := intervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	f.applyMQTT(&cfg)
	if changed("history-path") {
		out := cfg.output("history")
		out.History = &HistoryConfig{Path: f.historyPath}
	}
	if changed("http-listen") {
		out := cfg.output("http")
		out.HTTP = &HTTPConfig{Listen: f.httpListen}
	}
	if changed("sensor-type") {
		cfg.SensorType = f.sensorType
	}
	if changed("fallback-temperature") {
		cfg.FallbackTemperature = f.fallbackTemp
	}
	if f.disableEC {
		cfg.EC.Enabled = false
	}
	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	return cfg, cfg.Validate()
}

// applyMQTT maps the mqtt flags onto every mqtt output, creating one if
// none exists.
func (f *Flags) applyMQTT(cfg *Config) {
	changed := f.fs.Changed
	if !changed("mqtt-server") && !changed("mqtt-user") && !changed("mqtt-pass") &&
		!changed("mqtt-client-id") && !changed("mqtt-topic") {
		return
	}
	if !cfg.hasOutput("mqtt") {
		cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: "mqtt", IntervalMs: cfg.IntervalMs})
	}
	for i := range cfg.Outputs {
		if strings.ToLower(cfg.Outputs[i].Type) != "mqtt" {
			continue
		}
		m := cfg.Outputs[i].MQTT
		if m == nil {
			m = &MQTTConfig{}
			cfg.Outputs[i].MQTT = m
		}
		if changed("mqtt-server") {
			m.Server = f.mqttServer
		}
		if changed("mqtt-user") {
			m.Username = f.mqttUser
		}
		if changed("mqtt-pass") {
			m.Password = f.mqttPass
		}
		if changed("mqtt-client-id") {
			m.ClientID = f.mqttClientID
		}
		if changed("mqtt-topic") {
			m.StateTopic = f.mqttTopic
		}
	}
}

func (c *Config) hasOutput(typ string) bool {
	for _, o := range c.Outputs {
		if strings.EqualFold(o.Type, typ) {
			return true
		}
	}
	return false
}

// output returns the first output of the given type, appending one if needed.
func (c *Config) output(typ string) *OutputConfig {
	for i := range c.Outputs {
		if strings.EqualFold(c.Outputs[i].Type, typ) {
			return &c.Outputs[i]
		}
	}
	c.Outputs = append(c.Outputs, OutputConfig{Type: typ, IntervalMs: c.IntervalMs})
	return &c.Outputs[len(c.Outputs)-1]
}

// Parse decodes a YAML or JSON document over the defaults.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ADC.SampleRate <= 0 {
		return errors.New("sample-rate must be > 0")
	}
	if c.ADC.Reference <= 0 {
		return errors.New("reference must be > 0")
	}
	if c.I2C.PHAddress == c.I2C.ORPECAddress {
		return fmt.Errorf("ph and orp/ec converters share address %#x", c.I2C.PHAddress)
	}
	if c.SensorType != SensorReal && c.SensorType != SensorSimulation {
		return fmt.Errorf("unknown sensor type %q", c.SensorType)
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	if c.Filter.DtSeconds <= 0 {
		return errors.New("filter dt must be > 0")
	}
	switch strings.ToLower(c.RTD.Type) {
	case "pt100", "pt1000":
	default:
		return fmt.Errorf("unknown rtd type %q", c.RTD.Type)
	}
	if c.EC.Enabled {
		if len(c.EC.GainPins) != 3 || len(c.EC.PulsePins) != 3 || len(c.EC.PulseDuty) != 3 {
			return errors.New("ec needs exactly three gain pins, pulse pins and pulse duties")
		}
		if c.EC.FrequencyHz <= 0 {
			return errors.New("ec frequency must be > 0")
		}
		if c.EC.TargetVoltage <= 0 || c.EC.InitialExcitation <= 0 {
			return errors.New("ec excitation voltages must be > 0")
		}
		if c.EC.CellConstant <= 0 {
			return errors.New("ec cell constant must be > 0")
		}
	}
	return nil
}

func parseIntOrHex(s string) (int, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 0)
	return int(v), err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKeyIntMap parses "console=1000,mqtt=5000".
func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry %q", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", p, err)
		}
		out[strings.TrimSpace(kv[0])] = v
	}
	return out, nil
}
