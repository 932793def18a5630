package registry

import (
	"fmt"

	"github.com/easternanemone/rudaq/capability"
)

var errEmptyID = fmt.Errorf("device id must not be empty")

func errInvalidID(id string) error {
	return fmt.Errorf("device id %q must be lowercase ASCII", id)
}

func errInvalidTag(t capability.Tag) error {
	return fmt.Errorf("invalid capability tag %q", t)
}

func errDuplicateID(id string) error {
	return fmt.Errorf("device %q already registered", id)
}

func errUnknownDevice(id string) error {
	return fmt.Errorf("device %q not registered", id)
}

func errStillStaged(id string) error {
	return fmt.Errorf("device %q is still staged", id)
}

func errNotStageable(id string) error {
	return fmt.Errorf("device %q does not declare capability %q", id, capability.Stageable)
}

func errAlreadyStaged(id, lessee string) error {
	return fmt.Errorf("device %q is staged by %q", id, lessee)
}

func errCapabilityNotDeclared(id string, tag capability.Tag) error {
	return fmt.Errorf("device %q does not declare capability %q", id, tag)
}

func errFaulted(id string) error {
	return fmt.Errorf("device %q is faulted; re-registration required", id)
}

func errNotStaged(id string, tag capability.Tag) error {
	return fmt.Errorf("device %q must be staged before capability %q can be acquired", id, tag)
}
