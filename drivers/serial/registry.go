// drivers/serial/registry.go
package serial

import (
	"sort"
	"sync"

	"flightcode-go/errcode"
)

// Table maps peripheral names to their bound UART. Only peripherals the
// board enables are registered, so Open on anything else fails cleanly.
type Table struct {
	mu    sync.Mutex
	ports map[string]*UART
}

func NewTable() *Table {
	return &Table{ports: map[string]*UART{}}
}

// Default is the process-wide table filled by the platform package.
var Default = NewTable()

// Register binds hw under hw.Name. Duplicate names are a wiring bug.
func (t *Table) Register(hw Hardware) *UART {
	if hw.Name == "" || hw.Peripheral == nil {
		panic("serial: hardware needs a name and a peripheral")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.ports[hw.Name]; dup {
		panic("serial: duplicate port " + hw.Name)
	}
	u := newUART(hw)
	t.ports[hw.Name] = u
	return u
}

// OpenErr opens the named port with cfg.
func (t *Table) OpenErr(name string, cfg Config) (Port, error) {
	t.mu.Lock()
	u, ok := t.ports[name]
	t.mu.Unlock()
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownPort, Op: "serial.open", Msg: name}
	}
	if !u.open.CompareAndSwap(false, true) {
		return nil, &errcode.E{C: errcode.PortInUse, Op: "serial.open", Msg: name}
	}
	u.start(cfg)
	return u, nil
}

// Open is OpenErr without the reason: an absent or busy peripheral yields nil.
func (t *Table) Open(name string, cfg Config) Port {
	p, err := t.OpenErr(name, cfg)
	if err != nil {
		println("[serial] open", name, "failed:", err.Error())
		return nil
	}
	return p
}

// Lookup returns the bound UART for board and diagnostic code.
func (t *Table) Lookup(name string) (*UART, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.ports[name]
	return u, ok
}

// Names lists the registered peripherals in order.
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.ports))
	for n := range t.ports {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func Register(hw Hardware) *UART                    { return Default.Register(hw) }
func Open(name string, cfg Config) Port             { return Default.Open(name, cfg) }
func OpenErr(name string, cfg Config) (Port, error) { return Default.OpenErr(name, cfg) }
func Lookup(name string) (*UART, bool)              { return Default.Lookup(name) }
