package tlsloop

const (
	// sizeOfCacheLine is the size of a CPU cache line.
	// 64 bytes is standard for x86-64.
	// 128 bytes is standard for Apple Silicon (M1/M2/M3) and other ARM64.
	// We use 128 to satisfy the largest common alignment requirement.
	sizeOfCacheLine = 128

	// sizeOfAtomicUint64 is the size of an atomic.Uint64 variable.
	sizeOfAtomicUint64 = 8

	// sizeOfWord is the size in bytes of the machine word W that every
	// instrumented load/store operates on. Only 64-bit words are supported;
	// the alignment check in dependency.go uses a literal 8, not this
	// constant.
	sizeOfWord = 8
)
