// drivers/serial/mode.go
package serial

// Mode selects what a port does and how it moves bytes.
type Mode uint32

const (
	ModeRX Mode = 1 << iota
	ModeTX
	ModeDMARX
	ModeDMATX
	ModeInverted
	ModeSingleWire
	ModeSBUS // 2 stop bits, even parity

	ModeRXTX        = ModeRX | ModeTX
	ModeDefaultFast = ModeRXTX | ModeDMARX | ModeDMATX
)

const modeDMA = ModeDMARX | ModeDMATX

func (m Mode) Has(f Mode) bool { return m&f != 0 }

// State holds the live direction enables of a port.
type State uint32

const (
	StateRX State = 1 << iota
	StateTX
)

func (s State) Has(f State) bool { return s&f != 0 }

// stateFor derives the direction enables a mode asks for.
func stateFor(m Mode) State {
	var s State
	if m.Has(ModeRX) {
		s |= StateRX
	}
	if m.Has(ModeTX) {
		s |= StateTX
	}
	return s
}

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// LineConfig is what a Peripheral must apply on every reconfigure.
type LineConfig struct {
	Baud       uint32
	DataBits   uint8
	StopBits   uint8
	Parity     Parity
	RX, TX     bool
	Inverted   bool
	HalfDuplex bool
}

// lineFor builds the line parameters for a mode/state pair. Word length is
// always 8 bits; SBUS framing switches to 8E2.
func lineFor(m Mode, s State, baud uint32) LineConfig {
	lc := LineConfig{
		Baud:       baud,
		DataBits:   8,
		StopBits:   1,
		Parity:     ParityNone,
		RX:         s.Has(StateRX),
		TX:         s.Has(StateTX),
		Inverted:   m.Has(ModeInverted),
		HalfDuplex: m.Has(ModeSingleWire),
	}
	if m.Has(ModeSBUS) {
		lc.StopBits = 2
		lc.Parity = ParityEven
	}
	return lc
}

// Config is the caller-facing open/configure request.
type Config struct {
	Mode       Mode
	BaudRate   uint32
	RxCallback func(byte) // IRQ receive only; bypasses the RX ring
}
