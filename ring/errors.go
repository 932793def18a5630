package ring

import (
	"errors"
	"fmt"
)

var errEntryTooLarge = errors.New("ring: entry larger than buffer capacity")

func errUnknownConsumer(name string) error {
	return fmt.Errorf("ring: consumer %q not registered", name)
}
