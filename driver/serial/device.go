package serial

import (
	"context"
	"fmt"
	"strconv"

	"github.com/easternanemone/rudaq/capability"
	"github.com/easternanemone/rudaq/rudaqerr"
)

// Device interprets a Declaration against a shared Bus for one addressed
// endpoint on a multidrop line. It implements every capability.*Ops
// interface except FrameProducerOps; Registry.Register should only list the
// Tags the Declaration
// actually supplies commands for (capability.Valid plus Declaration.Validate
// already enforce that commands exist for any tag a caller declares).
type Device struct {
	id      string
	address string
	bus     *Bus
	decl    *Declaration
	policy  RetryPolicy
	breaker breaker
}

// NewDevice constructs a Device bound to address on bus, interpreting decl.
func NewDevice(id, address string, bus *Bus, decl *Declaration, policy RetryPolicy) *Device {
	return &Device{id: id, address: address, bus: bus, decl: decl, policy: policy}
}

// Commands reports the command names this device's declaration supplies.
func (d *Device) Commands() map[string]bool {
	out := make(map[string]bool, len(d.decl.Commands))
	for name := range d.decl.Commands {
		out[name] = true
	}
	return out
}

// exchange renders cmdName's template with args, performs the bus exchange
// (retried per policy, breaker-guarded), parses the response, and applies
// the command's conversion expression if any. It returns the raw parsed
// fields and, as its second result, the converted value (0 when no
// conversion is declared).
func (d *Device) exchange(ctx context.Context, cmdName string, args map[string]any) (map[string]string, float64, error) {
	cmd, ok := d.decl.Commands[cmdName]
	if !ok {
		return nil, 0, rudaqerr.Configuration("serial.Device.exchange", fmt.Errorf("device %q: no command %q declared", d.id, cmdName))
	}

	renderArgs := map[string]any{"Address": d.address}
	for k, v := range args {
		renderArgs[k] = v
	}
	payload, err := render(cmd.Template, renderArgs)
	if err != nil {
		return nil, 0, err
	}
	terminator := terminatorOrDefault(cmd.Terminator)

	var raw []byte
	err = doWithRetry(ctx, &d.breaker, d.policy, func(ctx context.Context) error {
		var execErr error
		raw, execErr = d.bus.Exchange(ctx, payload, terminator)
		return execErr
	})
	if err != nil {
		return nil, 0, err
	}

	fields, err := parseResponse(cmd.Response, raw)
	if err != nil {
		return nil, 0, err
	}

	value := 0.0
	if cmd.Conversion != "" {
		rawVal, ok := fields["raw"]
		vars := map[string]float64{}
		if ok {
			if f, perr := strconv.ParseFloat(rawVal, 64); perr == nil {
				vars["raw"] = f
			}
		}
		value, err = evalExpr(cmd.Conversion, vars)
		if err != nil {
			return fields, 0, err
		}
	}
	return fields, value, nil
}

// MovableOps

func (d *Device) MoveAbs(ctx context.Context, value float64) error {
	_, _, err := d.exchange(ctx, "move_abs", map[string]any{"Value": value})
	return err
}

func (d *Device) MoveRel(ctx context.Context, delta float64) error {
	_, _, err := d.exchange(ctx, "move_rel", map[string]any{"Delta": delta})
	return err
}

func (d *Device) Position(ctx context.Context) (float64, error) {
	_, v, err := d.exchange(ctx, "position", nil)
	return v, err
}

func (d *Device) Limits(ctx context.Context) (float64, float64, error) {
	fields, _, err := d.exchange(ctx, "limits", nil)
	if err != nil {
		return 0, 0, err
	}
	min, _ := strconv.ParseFloat(fields["min"], 64)
	max, _ := strconv.ParseFloat(fields["max"], 64)
	return min, max, nil
}

// ReadableOps

func (d *Device) Read(ctx context.Context) (float64, error) {
	_, v, err := d.exchange(ctx, "read", nil)
	return v, err
}

func (d *Device) Units(ctx context.Context) (string, error) {
	fields, _, err := d.exchange(ctx, "units", nil)
	if err != nil {
		return "", err
	}
	return fields["raw"], nil
}

// TriggerableOps

func (d *Device) Arm(ctx context.Context) error {
	_, _, err := d.exchange(ctx, "arm", nil)
	return err
}

func (d *Device) Trigger(ctx context.Context) error {
	_, _, err := d.exchange(ctx, "trigger", nil)
	return err
}

// SettableOps

func (d *Device) Set(ctx context.Context, key string, value any) error {
	_, _, err := d.exchange(ctx, "set", map[string]any{"Key": key, "Value": value})
	return err
}

func (d *Device) Get(ctx context.Context, key string) (any, error) {
	fields, _, err := d.exchange(ctx, "get", map[string]any{"Key": key})
	if err != nil {
		return nil, err
	}
	return fields["raw"], nil
}

// StageableOps

func (d *Device) Stage(ctx context.Context) error {
	_, _, err := d.exchange(ctx, "stage", nil)
	return err
}

func (d *Device) Unstage(ctx context.Context) error {
	_, _, err := d.exchange(ctx, "unstage", nil)
	return err
}

// CommandableOps

func (d *Device) Execute(ctx context.Context, command string, args map[string]any) (map[string]any, error) {
	fields, value, err := d.exchange(ctx, command, args)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if _, ok := d.decl.Commands[command]; ok && d.decl.Commands[command].Conversion != "" {
		out["value"] = value
	}
	return out, nil
}

// State implements registry.StateProvider for devices declaring Readable or
// Movable, used by the registry's coalesced background publication loop.
func (d *Device) State(ctx context.Context) (map[string]any, error) {
	for _, tag := range d.decl.Capabilities {
		switch tag {
		case capability.Movable:
			pos, err := d.Position(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"position": pos}, nil
		case capability.Readable:
			v, err := d.Read(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"value": v}, nil
		}
	}
	return nil, nil
}
