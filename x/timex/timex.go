package timex

import "time"

var boot = time.Now()

// Micros returns microseconds since process start. It wraps after ~71
// minutes; compare readings with unsigned subtraction.
func Micros() uint32 { return uint32(time.Since(boot).Microseconds()) }

// PeriodFromHz returns a nanosecond period for a requested frequency.
// freqHz==0 is coerced to 1 to avoid division by zero.
func PeriodFromHz(freqHz uint32) uint64 {
	if freqHz == 0 {
		freqHz = 1
	}
	return uint64(1_000_000_000 / uint64(freqHz))
}

// DurationFromHz is PeriodFromHz as a time.Duration.
func DurationFromHz(freqHz uint32) time.Duration {
	return time.Duration(PeriodFromHz(freqHz))
}
