package periph

import (
	"periph.io/x/conn/v3/spi"

	"github.com/ericogr/water-monitor/pkg/hal"
)

// MCP4921 is the 12-bit excitation DAC. Commands are 16-bit words shifted
// out MSB first with chip select held for the whole word.
type MCP4921 struct {
	conn spi.Conn
}

func NewMCP4921(conn spi.Conn) *MCP4921 {
	return &MCP4921{conn: conn}
}

func (d *MCP4921) Send(cmd hal.DacCommand) error {
	w := cmd.Encode()
	if err := d.conn.Tx([]byte{byte(w >> 8), byte(w)}, nil); err != nil {
		return &hal.TransportError{Device: "mcp4921", Op: "send", Err: err}
	}
	return nil
}
