package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/adaptherm/internal/device"
	"github.com/Agrid-Dev/adaptherm/internal/gains"
	"github.com/Agrid-Dev/adaptherm/internal/ke"
	"github.com/Agrid-Dev/adaptherm/internal/learning"
	"github.com/Agrid-Dev/adaptherm/internal/pwm"
	"github.com/Agrid-Dev/adaptherm/internal/state"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// EnvPrefix marks the environment variables that override the config file.
const EnvPrefix = "ADAPTHERM_"

type Config struct {
	DeviceID    string            `koanf:"device_id"`
	Log         LogConfig         `koanf:"log"`
	Controllers ControllersConfig `koanf:"controllers"`
	Thermostat  ThermostatConfig  `koanf:"thermostat"`
	Regulator   RegulatorConfig   `koanf:"regulator"`
	HeatLoss    HeatLossConfig    `koanf:"heat_loss"`
	PWM         PWMConfig         `koanf:"pwm"`
	Learning    LearningConfig    `koanf:"learning"`
	Ke          ke.Config         `koanf:"ke"`
	Store       state.Config      `koanf:"store"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `koanf:"format"` // "text" | "json"
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http"`
	MQTT   MQTTConfig   `koanf:"mqtt"`
	Modbus ModbusConfig `koanf:"modbus"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainStatus    bool          `koanf:"retain_status"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	UnitID  byte   `koanf:"unit_id"`
}

type ThermostatConfig struct {
	Mode        string  `koanf:"mode"`         // "off" | "heat" | "cool"
	HeatingType string  `koanf:"heating_type"` // "floor_hydronic" | "radiator" | "convector" | "forced_air"
	Setpoint    float64 `koanf:"temperature_setpoint"`
	SetpointMin float64 `koanf:"temperature_setpoint_min"`
	SetpointMax float64 `koanf:"temperature_setpoint_max"`

	ColdTolerance float64 `koanf:"cold_tolerance"`
	HotTolerance  float64 `koanf:"hot_tolerance"`
}

// RegulatorConfig holds the physics gains the zone starts from and falls back to.
type RegulatorConfig struct {
	Interval  time.Duration `koanf:"interval"`
	OutputMin float64       `koanf:"output_min"`
	OutputMax float64       `koanf:"output_max"`

	Kp float64 `koanf:"kp"`
	Ki float64 `koanf:"ki"`
	Kd float64 `koanf:"kd"`
	Ke float64 `koanf:"ke"`

	Cooling   bool    `koanf:"cooling"`
	CoolingKp float64 `koanf:"cooling_kp"`
	CoolingKi float64 `koanf:"cooling_ki"`
	CoolingKd float64 `koanf:"cooling_kd"`
	CoolingKe float64 `koanf:"cooling_ke"`
}

// HeatLossConfig drives the simulated room used by `run --simulate`.
type HeatLossConfig struct {
	OutdoorTemperature float64 `koanf:"outdoor_temperature"`
	InitialTemperature float64 `koanf:"initial_temperature"`
	Coefficient        float64 `koanf:"coefficient"`
	HeaterPower        float64 `koanf:"heater_power"`
}

type PWMConfig struct {
	Period             time.Duration `koanf:"period"`
	MinOpenTime        time.Duration `koanf:"min_open_time"`
	MinClosedTime      time.Duration `koanf:"min_closed_time"`
	ValveActuationTime time.Duration `koanf:"valve_actuation_time"`
	TransportDelay     time.Duration `koanf:"transport_delay"`
}

type LearningConfig struct {
	AutoApply         bool   `koanf:"auto_apply"`
	KeLearning        bool   `koanf:"ke_learning"`
	ConvergenceCycles int    `koanf:"convergence_cycles"`
	HistorySize       int    `koanf:"history_size"`
	DedupPrecision    int    `koanf:"dedup_precision"`
	ContactAction     string `koanf:"contact_action"`

	Validation learning.ValidationConfig `koanf:"validation"`
}

// Default is the configuration used for anything the file and environment leave unset.
func Default() Config {
	return Config{
		DeviceID: "default",
		Log:      LogConfig{Level: "info", Format: "text"},
		Controllers: ControllersConfig{
			HTTP: HTTPConfig{Enabled: true, Addr: ":8080"},
			MQTT: MQTTConfig{
				BrokerURL:       "tcp://localhost:1883",
				PublishInterval: 5 * time.Second,
			},
			Modbus: ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1},
		},
		Thermostat: ThermostatConfig{
			Mode:          "heat",
			HeatingType:   "radiator",
			Setpoint:      21,
			SetpointMin:   5,
			SetpointMax:   30,
			ColdTolerance: 0.3,
			HotTolerance:  0.3,
		},
		Regulator: RegulatorConfig{
			Interval:  time.Minute,
			OutputMin: 0,
			OutputMax: 100,
			Kp:        20,
			Ki:        0.005,
			Kd:        0,
			Ke:        0,
		},
		HeatLoss: HeatLossConfig{
			OutdoorTemperature: 5,
			InitialTemperature: 17,
			Coefficient:        1e-5,
			HeaterPower:        5e-4,
		},
		PWM: PWMConfig{
			Period:        15 * time.Minute,
			MinOpenTime:   2 * time.Minute,
			MinClosedTime: 2 * time.Minute,
		},
		Learning: LearningConfig{
			AutoApply:         true,
			KeLearning:        true,
			ConvergenceCycles: learning.DefaultConvergedCycles,
			HistorySize:       gains.DefaultHistorySize,
			DedupPrecision:    gains.DefaultDedupPrecision,
			ContactAction:     "pause",
			Validation:        learning.DefaultValidationConfig(),
		},
		Ke: ke.Config{
			SteadyStateDuration: ke.DefaultSteadyStateDuration,
			ObservationInterval: ke.DefaultObservationInterval,
		},
		Store: state.Config{Driver: state.DriverSQLite, Path: "adaptherm.db"},
	}
}

// LoadConfig layers defaults, the config file at path (when it exists) and
// ADAPTHERM_* environment variables, in that order.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parser, err := parserFor(path)
			if err != nil {
				return Config{}, err
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, EnvPrefix)), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
}

// sections are the config blocks an environment key can address directly.
var sections = []string{"thermostat", "regulator", "heat_loss", "log", "pwm", "learning", "ke", "store"}

// envKeyTransform maps an environment key (prefix stripped) onto a koanf path:
// CONTROLLERS_HTTP_ADDR becomes controllers.http.addr and PWM_MIN_OPEN_TIME
// becomes pwm.min_open_time. Anything else is only lowercased.
func envKeyTransform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(s, "controllers_"); ok {
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) < 2 {
			return s
		}
		return "controllers." + parts[0] + "." + parts[1]
	}

	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(s, sec+"_"); ok && rest != "" {
			return sec + "." + rest
		}
	}
	return s
}

// Validate checks the fields that are not validated by the packages they feed.
func (c Config) Validate() error {
	if c.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		return fmt.Errorf("invalid log format %q", f)
	}
	if c.Regulator.Interval <= 0 {
		return errors.New("regulator.interval must be positive")
	}
	if c.Learning.DedupPrecision < 0 {
		return errors.New("learning.dedup_precision must not be negative")
	}
	return nil
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// Snapshot is the initial thermostat state.
func (c Config) Snapshot() (thermostat.Snapshot, error) {
	mode, err := thermostat.ParseMode(c.Thermostat.Mode)
	if err != nil {
		return thermostat.Snapshot{}, err
	}
	ht, err := thermostat.ParseHeatingType(c.Thermostat.HeatingType)
	if err != nil {
		return thermostat.Snapshot{}, err
	}
	return thermostat.Snapshot{
		Mode:                   mode,
		HeatingType:            ht,
		TemperatureSetpoint:    c.Thermostat.Setpoint,
		TemperatureSetpointMin: c.Thermostat.SetpointMin,
		TemperatureSetpointMax: c.Thermostat.SetpointMax,
		ColdTolerance:          c.Thermostat.ColdTolerance,
		HotTolerance:           c.Thermostat.HotTolerance,
	}, nil
}

// DeviceConfig is the zone configuration handed to device.New.
func (c Config) DeviceConfig() device.Config {
	r := c.Regulator
	precision := c.Learning.DedupPrecision
	cfg := device.Config{
		Gains:     gains.Gains{Kp: r.Kp, Ki: r.Ki, Kd: r.Kd, Ke: r.Ke},
		OutputMin: r.OutputMin,
		OutputMax: r.OutputMax,
		PWM: pwm.Config{
			Period:             c.PWM.Period,
			MinOpenTime:        c.PWM.MinOpenTime,
			MinClosedTime:      c.PWM.MinClosedTime,
			ValveActuationTime: c.PWM.ValveActuationTime,
			TransportDelay:     c.PWM.TransportDelay,
			OutputMax:          r.OutputMax,
		},
		History: gains.Config{
			HistorySize:    c.Learning.HistorySize,
			DedupPrecision: &precision,
		},
		Validation:        c.Learning.Validation,
		Ke:                c.Ke,
		KeLearning:        c.Learning.KeLearning,
		AutoApply:         c.Learning.AutoApply,
		ConvergenceCycles: c.Learning.ConvergenceCycles,
		ContactAction:     c.Learning.ContactAction,
	}
	if r.Cooling {
		cfg.CoolingGains = &gains.Gains{Kp: r.CoolingKp, Ki: r.CoolingKi, Kd: r.CoolingKd, Ke: r.CoolingKe}
	}
	return cfg
}

func (c Config) HeatLossParams() thermostat.HeatLossSimulatorParams {
	return thermostat.HeatLossSimulatorParams{
		OutdoorTemperature: c.HeatLoss.OutdoorTemperature,
		Coefficient:        c.HeatLoss.Coefficient,
		HeaterPower:        c.HeatLoss.HeaterPower,
	}
}
