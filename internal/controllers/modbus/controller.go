package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/adaptherm/internal/ports"
	"github.com/Agrid-Dev/adaptherm/internal/thermostat"
)

// Register map.
//
// Coils:             0 heater active (read), 1 contact open (read/write)
// Holding registers: 0 setpoint, 1 mode (read/write); 2..5 kp, ki, kd, ke (read)
// Input registers:   0 current temperature, 1 outdoor temperature,
//                    2 control output, 3 heater active
const (
	CoilHeaterActive = 0
	CoilContactOpen  = 1

	HoldingSetpoint = 0
	HoldingMode     = 1
	HoldingKp       = 2
	HoldingKi       = 3
	HoldingKd       = 4
	HoldingKe       = 5

	InputCurrentTemperature = 0
	InputOutdoorTemperature = 1
	InputControlOutput      = 2
	InputHeaterActive       = 3

	numCoils   = 2
	numHolding = 6
	numInput   = 4
)

// Fixed-point scales.
const (
	TemperatureScale = 100
	OutputScale      = 100
	KpScale          = 100
	GainScale        = 1000
)

// NoReading is reported for a temperature the zone has not received yet.
const NoReading uint16 = 0x8000

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
}

type Controller struct {
	svc ports.ThermostatService
	cfg Config
	lg  *slog.Logger
	ctx context.Context

	serv *mbserver.Server
}

func New(svc ports.ThermostatService, cfg Config, lg *slog.Logger) (*Controller, error) {
	if lg == nil {
		lg = slog.Default()
	}
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	return &Controller{
		svc: svc,
		cfg: cfg,
		lg:  lg.With("component", "modbus"),
		ctx: context.Background(),
	}, nil
}

// Run starts the Modbus server. Reads are served from the zone status and writes
// apply immediately. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	serv := mbserver.NewServer()
	c.serv = serv

	// Handlers go in before the listener starts; mbserver reads them from its
	// own goroutines.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(3, c.readRegisters(numHolding, c.holding))
	serv.RegisterFunctionHandler(4, c.readRegisters(numInput, c.input))
	serv.RegisterFunctionHandler(5, c.writeCoil)
	serv.RegisterFunctionHandler(6, c.writeSingleRegister)
	serv.RegisterFunctionHandler(16, c.writeMultipleRegisters)

	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	c.lg.Info("listening", "addr", c.cfg.Addr, "unit_id", c.cfg.UnitID)

	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 2000 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > numCoils {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	s := c.svc.Get()
	coils := [numCoils]bool{
		CoilHeaterActive: s.HeaterActive,
		CoilContactOpen:  s.Paused,
	}
	var packed byte
	for i := 0; i < qty; i++ {
		if coils[start+i] {
			packed |= 1 << i
		}
	}
	// response: byte count (1) + coil bytes
	return []byte{1, packed}, &mbserver.Success
}

func (c *Controller) holding(s ports.Status, addr int) uint16 {
	switch addr {
	case HoldingSetpoint:
		return encodeTemp(s.TemperatureSetpoint)
	case HoldingMode:
		return uint16(s.Mode)
	case HoldingKp:
		return encodeUnsigned(s.Gains.Kp, KpScale)
	case HoldingKi:
		return encodeUnsigned(s.Gains.Ki, GainScale)
	case HoldingKd:
		return encodeUnsigned(s.Gains.Kd, GainScale)
	default:
		return encodeUnsigned(s.Gains.Ke, GainScale)
	}
}

func (c *Controller) input(s ports.Status, addr int) uint16 {
	switch addr {
	case InputCurrentTemperature:
		return encodeReading(s.CurrentTemperature)
	case InputOutdoorTemperature:
		return encodeReading(s.OutdoorTemperature)
	case InputControlOutput:
		return encodeUnsigned(s.ControlOutput, OutputScale)
	default:
		if s.HeaterActive {
			return 1
		}
		return 0
	}
}

type handler = func(*mbserver.Server, mbserver.Framer) ([]byte, *mbserver.Exception)

// readRegisters serves a contiguous read from a register bank of size n.
func (c *Controller) readRegisters(n int, value func(ports.Status, int) uint16) handler {
	return func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := int(binary.BigEndian.Uint16(data[0:2]))
		qty := int(binary.BigEndian.Uint16(data[2:4]))
		if qty == 0 || qty > 125 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		if start+qty > n {
			return []byte{}, &mbserver.IllegalDataAddress
		}
		s := c.svc.Get()
		resp := make([]byte, 1+qty*2)
		resp[0] = byte(qty * 2)
		for i := 0; i < qty; i++ {
			binary.BigEndian.PutUint16(resp[1+i*2:3+i*2], value(s, start+i))
		}
		return resp, &mbserver.Success
	}
}

func (c *Controller) writeCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if addr != CoilContactOpen {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	var open bool
	switch value {
	case 0x0000:
		open = false
	case 0xFF00:
		open = true
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}
	if err := c.svc.SetContactOpen(c.ctx, open); err != nil {
		c.lg.Warn("contact write rejected", "err", err)
		return []byte{}, &mbserver.IllegalDataValue
	}

	// echo request (address + value)
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func (c *Controller) writeSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := int(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])
	if ex := c.writeRegister(addr, value); ex != nil {
		return []byte{}, ex
	}
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func (c *Controller) writeMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}
	for i := 0; i < int(quantity); i++ {
		val := binary.BigEndian.Uint16(d[5+i*2 : 7+i*2])
		if ex := c.writeRegister(int(start)+i, val); ex != nil {
			return []byte{}, ex
		}
	}
	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

// writeRegister applies one holding register write. Gain registers are read-only.
func (c *Controller) writeRegister(addr int, value uint16) *mbserver.Exception {
	var err error
	switch addr {
	case HoldingSetpoint:
		err = c.svc.SetSetpoint(c.ctx, decodeTemp(value))
	case HoldingMode:
		err = c.svc.SetMode(c.ctx, thermostat.Mode(value))
	default:
		return &mbserver.IllegalDataAddress
	}
	if err != nil {
		c.lg.Warn("register write rejected", "register", addr, "value", value, "err", err)
		return &mbserver.IllegalDataValue
	}
	return nil
}

func encodeTemp(v float64) uint16 {
	// MinInt16 is reserved for NoReading.
	r := min(max(int(math.Round(v*TemperatureScale)), math.MinInt16+1), math.MaxInt16)
	return uint16(int16(r))
}

func decodeTemp(u uint16) float64 {
	return float64(int16(u)) / TemperatureScale
}

func encodeReading(v *float64) uint16 {
	if v == nil {
		return NoReading
	}
	return encodeTemp(*v)
}

func encodeUnsigned(v, scale float64) uint16 {
	return uint16(min(max(math.Round(v*scale), 0), math.MaxUint16))
}
