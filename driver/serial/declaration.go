// Package serial implements the config-driven serial driver (§4.3): devices
// whose wire protocol is described declaratively in YAML rather than
// compiled in. A Declaration maps capability operations onto command
// templates, response parsers, and unit conversions; Device interprets that
// declaration against a shared, mutex-serialized multidrop Bus.
//
// The declarative build-from-params shape follows a builder pattern seen
// for raw serial HAL devices: a Params struct validated and defaulted at
// construction time, a single exclusively-claimed bus connection, and
// capability discovery driven by what the declaration actually configures
// rather than a fixed type switch.
package serial

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/easternanemone/rudaq/capability"
	"github.com/easternanemone/rudaq/rudaqerr"
)

// FixedField describes one byte-offset field of a fixed-width response.
type FixedField struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"` // exclusive
}

// ResponseSpec describes how to parse a device's raw response bytes into
// named string fields, prior to unit conversion.
type ResponseSpec struct {
	Mode      string       `yaml:"mode"` // "regex" | "fixed" | "delimiter"
	Pattern   string       `yaml:"pattern,omitempty"`
	Fields    []FixedField `yaml:"fields,omitempty"`
	Delimiter string       `yaml:"delimiter,omitempty"`
	Names     []string     `yaml:"names,omitempty"` // field names for delimiter mode, in order
}

// Command declares one named operation: how to render the outgoing bytes,
// how to parse the response, and an optional arithmetic expression
// converting the parsed raw field named "raw" into the operation's engineering
// value.
type Command struct {
	Template   string       `yaml:"template"`
	Response   ResponseSpec `yaml:"response"`
	Conversion string       `yaml:"conversion,omitempty"`
	Terminator string       `yaml:"terminator,omitempty"` // defaults to "\r\n"
}

// Declaration is the full protocol description for one device kind, loaded
// from YAML. Command names are conventional: move_abs, move_rel, position,
// limits, read, units, arm, trigger, set, get, stage, unstage, execute.
// Device.Commands reports which of these a Declaration actually supplies;
// Validate checks that every tag listed in Capabilities has its commands.
type Declaration struct {
	Kind         string             `yaml:"kind"`
	Commands     map[string]Command `yaml:"commands"`
	Capabilities []capability.Tag   `yaml:"capabilities"`
}

// LoadDeclaration reads and validates a Declaration from a YAML file.
func LoadDeclaration(path string) (*Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rudaqerr.Configuration("serial.LoadDeclaration", err)
	}
	var d Declaration
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, rudaqerr.Configuration("serial.LoadDeclaration", err)
	}
	if err := d.Validate(); err != nil {
		return nil, rudaqerr.Configuration("serial.LoadDeclaration", err)
	}
	return &d, nil
}

// Validate checks internal consistency: declared capabilities must map to
// the command names that capability requires, and response specs must name
// a supported mode.
func (d *Declaration) Validate() error {
	for _, tag := range d.Capabilities {
		if !capability.Valid(tag) {
			return fmt.Errorf("declaration %q: invalid capability tag %q", d.Kind, tag)
		}
		for _, name := range requiredCommands[tag] {
			if _, ok := d.Commands[name]; !ok {
				return fmt.Errorf("declaration %q: capability %q requires command %q", d.Kind, tag, name)
			}
		}
	}
	for name, cmd := range d.Commands {
		switch cmd.Response.Mode {
		case "", "regex", "fixed", "delimiter":
		default:
			return fmt.Errorf("declaration %q: command %q: unknown response mode %q", d.Kind, name, cmd.Response.Mode)
		}
	}
	return nil
}

var requiredCommands = map[capability.Tag][]string{
	capability.Movable:     {"move_abs", "move_rel", "position", "limits"},
	capability.Readable:    {"read", "units"},
	capability.Triggerable: {"arm", "trigger"},
	capability.Settable:    {"set", "get"},
	capability.Stageable:   {"stage", "unstage"},
	capability.Commandable: {"execute"},
}

// WatchDeclaration watches path for changes and invokes onChange with the
// freshly reloaded Declaration whenever the file is rewritten. It mirrors
// the hot-reload pattern used elsewhere in the stack for config files: an
// fsnotify watcher on the containing directory (so editors that replace the
// file via rename-then-move are still observed). Every Write or Create event
// on the file triggers one reload; events are not debounced. The returned
// function stops watching.
func WatchDeclaration(ctx context.Context, path string, onChange func(*Declaration, error)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, rudaqerr.Configuration("serial.WatchDeclaration", err)
	}
	dir := dirOf(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, rudaqerr.Configuration("serial.WatchDeclaration", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				decl, err := LoadDeclaration(path)
				onChange(decl, err)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(nil, rudaqerr.Configuration("serial.WatchDeclaration", werr))
			}
		}
	}()

	return func() {
		_ = watcher.Close()
		<-done
	}, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
