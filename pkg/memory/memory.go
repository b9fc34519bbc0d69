package memory

import "runtime"

// SecureZeroBytes overwrites b so plaintext key material does not linger on
// the heap after use.
func SecureZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
