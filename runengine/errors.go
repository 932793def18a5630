package runengine

import "fmt"

func errQueueFull(capacity int) error {
	return fmt.Errorf("runengine: queue at capacity (%d)", capacity)
}
