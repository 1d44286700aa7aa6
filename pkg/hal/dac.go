package hal

// DacChannel selects the output of a dual DAC. Single channel parts only
// accept DacA.
type DacChannel uint8

const (
	DacA DacChannel = iota
	DacB
)

const (
	dacBitChannel  = 1 << 15
	dacBitBuffered = 1 << 14
	dacBitGain1x   = 1 << 13
	dacBitActive   = 1 << 12
	dacValueMask   = 0x0fff

	// DacMaxCount is the largest 12-bit magnitude.
	DacMaxCount = dacValueMask
)

// DacCommand is a 16-bit MCP49x1 style write command.
type DacCommand struct {
	Channel  DacChannel
	Buffered bool
	Gain2x   bool
	Shutdown bool
	Value    uint16
}

// Wake returns a command that leaves low-power shutdown on the given channel.
func Wake(ch DacChannel) DacCommand {
	return DacCommand{Channel: ch}
}

// Sleep returns a command that puts the channel into low-power shutdown.
func Sleep(ch DacChannel) DacCommand {
	return DacCommand{Channel: ch, Shutdown: true}
}

// WithValue returns a copy of c carrying the given magnitude, clipped to 12 bits.
func (c DacCommand) WithValue(v uint16) DacCommand {
	if v > DacMaxCount {
		v = DacMaxCount
	}
	c.Value = v
	return c
}

// Encode packs the command into the word shifted out MSB first.
func (c DacCommand) Encode() uint16 {
	w := c.Value & dacValueMask
	if c.Channel == DacB {
		w |= dacBitChannel
	}
	if c.Buffered {
		w |= dacBitBuffered
	}
	if !c.Gain2x {
		w |= dacBitGain1x
	}
	if !c.Shutdown {
		w |= dacBitActive
	}
	return w
}
