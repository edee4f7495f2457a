// Package config loads the controller configuration from a YAML file with
// PUMPCTL_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/sweeney/pump-controller/internal/device"
	"github.com/sweeney/pump-controller/internal/device/modbusbus"
	"github.com/sweeney/pump-controller/internal/fleet"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "/etc/pump-controller/config.yaml"

// EnvPrefix prefixes every environment override, e.g. PUMPCTL_CONTROL_GAIN.
const EnvPrefix = "PUMPCTL"

type Config struct {
	Station    string           `mapstructure:"station" yaml:"station"`
	Bus        BusConfig        `mapstructure:"bus" yaml:"bus"`
	Sensors    SensorsConfig    `mapstructure:"sensors" yaml:"sensors"`
	Control    ControlConfig    `mapstructure:"control" yaml:"control"`
	Limits     LimitsConfig     `mapstructure:"limits" yaml:"limits"`
	Pressure   PressureConfig   `mapstructure:"pressure" yaml:"pressure"`
	AntiDrip   AntiDripConfig   `mapstructure:"anti_drip" yaml:"anti_drip"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Alarm      AlarmConfig      `mapstructure:"alarm" yaml:"alarm"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

type BusConfig struct {
	Mode             string        `mapstructure:"mode" yaml:"mode"`
	Address          string        `mapstructure:"address" yaml:"address"`
	BaudRate         int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	DataBits         int           `mapstructure:"data_bits" yaml:"data_bits"`
	Parity           string        `mapstructure:"parity" yaml:"parity"`
	StopBits         int           `mapstructure:"stop_bits" yaml:"stop_bits"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ScanFirst        uint8         `mapstructure:"scan_first" yaml:"scan_first"`
	ScanLast         uint8         `mapstructure:"scan_last" yaml:"scan_last"`
	StatusRegister   uint16        `mapstructure:"status_register" yaml:"status_register"`
	ControlRegister  uint16        `mapstructure:"control_register" yaml:"control_register"`
	SetpointRegister uint16        `mapstructure:"setpoint_register" yaml:"setpoint_register"`
}

// PointConfig locates one sensor on a drive.
type PointConfig struct {
	DeviceIndex int     `mapstructure:"device_index" yaml:"device_index"`
	Register    uint16  `mapstructure:"register" yaml:"register"`
	Words       int     `mapstructure:"words" yaml:"words"`
	Bit         *uint   `mapstructure:"bit" yaml:"bit,omitempty"`
	Scale       float64 `mapstructure:"scale" yaml:"scale"`
	Signed      bool    `mapstructure:"signed" yaml:"signed"`
}

type SensorsConfig struct {
	OutletPressure   PointConfig `mapstructure:"outlet_pressure" yaml:"outlet_pressure"`
	InletPressure    PointConfig `mapstructure:"inlet_pressure" yaml:"inlet_pressure"`
	InletTemperature PointConfig `mapstructure:"inlet_temperature" yaml:"inlet_temperature"`
}

type ControlConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Gain           float64       `mapstructure:"gain" yaml:"gain"`
	MaxSpeed       int           `mapstructure:"max_speed" yaml:"max_speed"`
	FaultResetHold time.Duration `mapstructure:"fault_reset_hold" yaml:"fault_reset_hold"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// LimitsConfig holds the service intervals in hours. 0 disables a counter.
type LimitsConfig struct {
	TLHours int `mapstructure:"tl_hours" yaml:"tl_hours"`
	BKHours int `mapstructure:"bk_hours" yaml:"bk_hours"`
	RBHours int `mapstructure:"rb_hours" yaml:"rb_hours"`
}

type PressureConfig struct {
	MinInlet  float64 `mapstructure:"min_inlet" yaml:"min_inlet"`
	MaxInlet  float64 `mapstructure:"max_inlet" yaml:"max_inlet"`
	MaxOutlet float64 `mapstructure:"max_outlet" yaml:"max_outlet"`
	Target    int     `mapstructure:"target" yaml:"target"`
}

type AntiDripConfig struct {
	Window     time.Duration `mapstructure:"window" yaml:"window"`
	MaxStarts  int           `mapstructure:"max_starts" yaml:"max_starts"`
	MinEpisode time.Duration `mapstructure:"min_episode" yaml:"min_episode"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type SupervisorConfig struct {
	Broker            string        `mapstructure:"broker" yaml:"broker"`
	ClientID          string        `mapstructure:"client_id" yaml:"client_id"`
	TopicPrefix       string        `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval" yaml:"telemetry_interval"`
	Encoding          string        `mapstructure:"encoding" yaml:"encoding"`
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AlarmConfig configures the alarm relay. A negative Line disables it.
type AlarmConfig struct {
	Chip      string `mapstructure:"chip" yaml:"chip"`
	Line      int    `mapstructure:"line" yaml:"line"`
	ActiveLow bool   `mapstructure:"active_low" yaml:"active_low"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("station", "station-1")

	v.SetDefault("bus.mode", "rtu")
	v.SetDefault("bus.address", "/dev/ttyUSB0")
	v.SetDefault("bus.baud_rate", 19200)
	v.SetDefault("bus.data_bits", 8)
	v.SetDefault("bus.parity", "E")
	v.SetDefault("bus.stop_bits", 1)
	v.SetDefault("bus.timeout", "500ms")
	v.SetDefault("bus.scan_first", 1)
	v.SetDefault("bus.scan_last", 8)
	v.SetDefault("bus.status_register", 0x6041)
	v.SetDefault("bus.control_register", 0x6040)
	v.SetDefault("bus.setpoint_register", 0x60FF)

	// Outlet transducer on the first drive, inlet pressure switch and
	// temperature switch on its digital inputs.
	setPointDefaults(v, "sensors.outlet_pressure", 0x2DA4, 1, 0.1)
	setPointDefaults(v, "sensors.inlet_pressure", 0x60FD, 2, 1)
	setPointDefaults(v, "sensors.inlet_temperature", 0x60FD, 2, 1)
	v.SetDefault("sensors.inlet_pressure.bit", 17)
	v.SetDefault("sensors.inlet_temperature.bit", 16)

	v.SetDefault("control.poll_interval", "1s")
	v.SetDefault("control.gain", 30.0)
	v.SetDefault("control.max_speed", 3000)
	v.SetDefault("control.fault_reset_hold", "100ms")
	v.SetDefault("control.settle_delay", "500ms")

	v.SetDefault("limits.tl_hours", 4)
	v.SetDefault("limits.bk_hours", 1080)
	v.SetDefault("limits.rb_hours", 720)

	v.SetDefault("pressure.min_inlet", 1.0)
	v.SetDefault("pressure.max_inlet", 100.0)
	v.SetDefault("pressure.max_outlet", 110.0)
	v.SetDefault("pressure.target", 12)

	v.SetDefault("anti_drip.window", "1h")
	v.SetDefault("anti_drip.max_starts", 20)
	v.SetDefault("anti_drip.min_episode", "30s")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "/var/lib/pump-controller/state.db")

	v.SetDefault("supervisor.broker", "")
	v.SetDefault("supervisor.client_id", "")
	v.SetDefault("supervisor.topic_prefix", "")
	v.SetDefault("supervisor.telemetry_interval", "1m")
	v.SetDefault("supervisor.encoding", "json")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("alarm.chip", "gpiochip0")
	v.SetDefault("alarm.line", -1)
	v.SetDefault("alarm.active_low", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
}

func setPointDefaults(v *viper.Viper, prefix string, register uint16, words int, scale float64) {
	v.SetDefault(prefix+".device_index", 0)
	v.SetDefault(prefix+".register", register)
	v.SetDefault(prefix+".words", words)
	v.SetDefault(prefix+".scale", scale)
	v.SetDefault(prefix+".signed", false)
}

// Load reads path, applies environment overrides and defaults, and validates
// the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills values derived from other fields.
func (c *Config) applyDefaults() {
	if c.Supervisor.ClientID == "" {
		c.Supervisor.ClientID = "pump-controller-" + c.Station
	}
	if c.Supervisor.TopicPrefix == "" {
		c.Supervisor.TopicPrefix = "pumps/" + c.Station
	}
	for _, p := range []*PointConfig{&c.Sensors.OutletPressure, &c.Sensors.InletPressure, &c.Sensors.InletTemperature} {
		if p.Scale == 0 {
			p.Scale = 1
		}
		if p.Words == 0 {
			p.Words = 1
		}
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Station == "" {
		errs = append(errs, errors.New("station is required"))
	}

	switch c.Bus.Mode {
	case "rtu", "tcp":
	default:
		errs = append(errs, fmt.Errorf("bus.mode must be rtu or tcp, got %q", c.Bus.Mode))
	}
	if c.Bus.Address == "" {
		errs = append(errs, errors.New("bus.address is required"))
	}
	if c.Bus.ScanFirst == 0 || c.Bus.ScanLast < c.Bus.ScanFirst || c.Bus.ScanLast > 247 {
		errs = append(errs, fmt.Errorf("bus scan range %d..%d must lie within 1..247", c.Bus.ScanFirst, c.Bus.ScanLast))
	}

	for name, p := range map[string]PointConfig{
		"outlet_pressure":   c.Sensors.OutletPressure,
		"inlet_pressure":    c.Sensors.InletPressure,
		"inlet_temperature": c.Sensors.InletTemperature,
	} {
		if p.DeviceIndex < 0 {
			errs = append(errs, fmt.Errorf("sensors.%s.device_index must not be negative", name))
		}
		if p.Words != 1 && p.Words != 2 {
			errs = append(errs, fmt.Errorf("sensors.%s.words must be 1 or 2", name))
		}
		if p.Bit != nil && *p.Bit >= uint(16*p.Words) {
			errs = append(errs, fmt.Errorf("sensors.%s.bit %d outside a %d-word value", name, *p.Bit, p.Words))
		}
	}

	if c.Control.PollInterval <= 0 {
		errs = append(errs, errors.New("control.poll_interval must be positive"))
	}
	if c.Control.Gain <= 0 {
		errs = append(errs, errors.New("control.gain must be positive"))
	}
	if c.Control.MaxSpeed <= 0 || c.Control.MaxSpeed > 32767 {
		errs = append(errs, fmt.Errorf("control.max_speed must be in 1..32767, got %d", c.Control.MaxSpeed))
	}
	if c.Control.FaultResetHold < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("control.fault_reset_hold must be at least 100ms, got %s", c.Control.FaultResetHold))
	}

	if c.Limits.TLHours < 0 || c.Limits.BKHours < 0 || c.Limits.RBHours < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}

	if c.Pressure.MaxInlet < c.Pressure.MinInlet {
		errs = append(errs, fmt.Errorf("pressure.max_inlet %v below min_inlet %v", c.Pressure.MaxInlet, c.Pressure.MinInlet))
	}
	if c.Pressure.MaxOutlet < 0 {
		errs = append(errs, errors.New("pressure.max_outlet must not be negative"))
	}
	if c.Pressure.Target <= 0 {
		errs = append(errs, errors.New("pressure.target must be positive"))
	}

	if c.AntiDrip.Window <= 0 {
		errs = append(errs, errors.New("anti_drip.window must be positive"))
	}
	if c.AntiDrip.MaxStarts < 0 {
		errs = append(errs, errors.New("anti_drip.max_starts must not be negative"))
	}
	if c.AntiDrip.MinEpisode < 0 {
		errs = append(errs, errors.New("anti_drip.min_episode must not be negative"))
	}

	switch c.Store.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or pgx, got %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}

	switch c.Supervisor.Encoding {
	case "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("supervisor.encoding must be json or cbor, got %q", c.Supervisor.Encoding))
	}
	if c.Supervisor.TelemetryInterval < 0 {
		errs = append(errs, errors.New("supervisor.telemetry_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// ModbusConfig returns the field-bus settings.
func (c *Config) ModbusConfig() modbusbus.Config {
	return modbusbus.Config{
		Mode:             c.Bus.Mode,
		Address:          c.Bus.Address,
		BaudRate:         c.Bus.BaudRate,
		DataBits:         c.Bus.DataBits,
		Parity:           c.Bus.Parity,
		StopBits:         c.Bus.StopBits,
		Timeout:          c.Bus.Timeout,
		ScanFirst:        c.Bus.ScanFirst,
		ScanLast:         c.Bus.ScanLast,
		StatusRegister:   c.Bus.StatusRegister,
		ControlRegister:  c.Bus.ControlRegister,
		SetpointRegister: c.Bus.SetpointRegister,
	}
}

// FleetConfig returns the fleet timing and sensor map.
func (c *Config) FleetConfig() fleet.Config {
	return fleet.Config{
		Sensors: fleet.Sensors{
			OutletPressure:   c.Sensors.OutletPressure.sensorPoint(),
			InletPressure:    c.Sensors.InletPressure.sensorPoint(),
			InletTemperature: c.Sensors.InletTemperature.sensorPoint(),
		},
		FaultResetHold: c.Control.FaultResetHold,
		SettleDelay:    c.Control.SettleDelay,
	}
}

func (p PointConfig) sensorPoint() fleet.SensorPoint {
	return fleet.SensorPoint{
		Device: p.DeviceIndex,
		Point: device.Point{
			Register: p.Register,
			Words:    p.Words,
			Bit:      p.Bit,
			Scale:    p.Scale,
			Signed:   p.Signed,
		},
	}
}

// Dump renders c as YAML.
func Dump(c *Config) ([]byte, error) {
	return yaml.Marshal(c)
}
