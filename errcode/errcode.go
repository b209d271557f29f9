package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"

	UnknownPort      Code = "unknown_port"
	PortInUse        Code = "port_in_use"
	LinkDown         Code = "link_down"
	UnknownTransport Code = "unknown_transport"

	Error Code = "error" // generic fallback
)

// E wraps a Code with context and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return Of(u.Unwrap())
	}
	return Error
}

// Wrap attaches op context to a driver error, keeping any code it carries.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: MapDriverErr(err), Op: op, Err: err}
}

// MapDriverErr maps low-level driver errors to a Code.
// Extend the heuristics per platform/driver.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	return Of(err)
}
