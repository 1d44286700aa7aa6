package output

import "github.com/ericogr/water-monitor/pkg/sensor"

type Output interface {
	Publish(sensor.Readings) error
	Close() error
}

// History is implemented by outputs that keep past readings, newest first.
type History interface {
	Latest() (sensor.Readings, bool, error)
	Recent(n int) ([]sensor.Readings, error)
}
