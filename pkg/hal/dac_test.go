package hal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDacCommandEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  DacCommand
		want uint16
	}{
		{"wake", Wake(DacA), 0x3000},
		{"sleep", Sleep(DacA), 0x2000},
		{"value", Wake(DacA).WithValue(0x0abc), 0x3abc},
		{"clipped", Wake(DacA).WithValue(0xffff), 0x3fff},
		{"channel b buffered 2x", DacCommand{Channel: DacB, Buffered: true, Gain2x: true, Value: 1}, 0xd001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.Encode())
		})
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	bus := errors.New("nack")
	err := error(&TransportError{Device: "ads1115@0x48", Op: "read conversion", Err: bus})
	assert.ErrorIs(t, err, bus)
	assert.Equal(t, "ads1115@0x48: read conversion: nack", err.Error())
}
