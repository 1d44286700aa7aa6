package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/ericogr/water-monitor/pkg/output"
	"github.com/ericogr/water-monitor/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(r sensor.Readings) error {
	fields := []string{
		field("ph", r.PH, "%.3f"),
		field("temperature", r.Temperature, "%.2f"),
		field("ec", r.EC, "%.1f"),
		field("orp", r.ORP, "%.1f"),
	}
	fmt.Printf("%s %s\n", r.Timestamp.Format(time.RFC3339), strings.Join(fields, " "))
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

func field(name string, r sensor.Result, format string) string {
	if !r.Valid() {
		return fmt.Sprintf("%s=error(%v)", name, r.Err)
	}
	return name + "=" + fmt.Sprintf(format, r.Value)
}
