package proc

import "fmt"

// MinValidAddress is the lowest address considered a legitimate user-space
// location. Anything below it is rejected before any transfer is attempted.
const MinValidAddress Address = 0x10000

// An Address is a location in the target's address space.
type Address uint64

// Add adds x to address a.
func (a Address) Add(x int64) Address {
	return a + Address(x)
}

// Valid reports whether a is at or above MinValidAddress.
func (a Address) Valid() bool {
	return a >= MinValidAddress
}

// Format returns a zero padded hexadecimal representation of a, 16 digits
// wide for 8 byte pointers and 8 digits wide otherwise.
func (a Address) Format(ptrSize int) string {
	if ptrSize == 4 {
		return fmt.Sprintf("0x%08x", uint64(a))
	}
	return fmt.Sprintf("0x%016x", uint64(a))
}

func (a Address) String() string {
	return a.Format(8)
}
