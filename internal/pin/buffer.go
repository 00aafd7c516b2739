// Package pin implements a fixed-capacity, zeroizing PIN byte buffer:
// capacity is reserved up front so no reallocation can ever leave a PIN
// fragment behind in a moved/freed buffer, and the backing storage is
// wiped on every exit path.
package pin

import "runtime"

// APDUOverhead and MaxPadding give the buffer's fixed capacity: 5 bytes of
// APDU framing overhead plus 16 bytes of padding headroom.
const (
	APDUOverhead = 5
	MaxPadding   = 16
	Capacity     = APDUOverhead + MaxPadding // 21

	// MaxDigits is the hard maximum PIN length this buffer accepts,
	// below the 21-byte Capacity; raising it requires re-deriving
	// Capacity first.
	MaxDigits = 12
)

// Buffer is a fixed-capacity byte container for PIN digits. It never grows:
// Append past Capacity is rejected, guaranteeing no reallocation can ever
// copy a PIN fragment into freed memory.
type Buffer struct {
	data [Capacity]byte
	n    int
}

// New returns an empty PIN buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds a single digit byte to the buffer. It reports false (and
// leaves the buffer unchanged) once MaxDigits is reached.
func (b *Buffer) Append(digit byte) bool {
	if b.n >= MaxDigits || b.n >= Capacity {
		return false
	}
	b.data[b.n] = digit
	b.n++
	return true
}

// Backspace removes the last digit, if any, zeroizing the vacated slot.
func (b *Buffer) Backspace() {
	if b.n == 0 {
		return
	}
	b.n--
	b.data[b.n] = 0
}

// Len reports how many digits are currently buffered.
func (b *Buffer) Len() int { return b.n }

// Bytes returns the in-use slice view. The caller must not retain it past
// the buffer's lifetime - it aliases the fixed backing array.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Move consumes the buffer, handing its bytes to fn (typically a signing
// call), then zeroizes the backing storage regardless of fn's outcome. This
// is the only sanctioned way to get a PIN out of the buffer: after Move
// returns, the buffer is empty and Bytes is no longer valid.
func (b *Buffer) Move(fn func(pin []byte) error) error {
	defer b.Zeroize()
	return fn(b.Bytes())
}

// Zeroize wipes the backing storage. Safe to call multiple times.
func (b *Buffer) Zeroize() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.n = 0
	runtime.KeepAlive(&b.data)
}

// ClearBytes zeros an arbitrary byte slice in place, for callers holding a
// digest, derived key, or other sensitive buffer outside of Buffer - e.g. a
// signing result copied off a PKCS#11 session.
func ClearBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
