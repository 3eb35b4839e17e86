//go:build !tlsloop_debug

package tlsloop

// assertTrigger is a no-op in release builds: per the error design,
// internal assertions are unchecked outside debug builds and imply
// undefined behavior if the invariant they guard is actually violated.
func assertTrigger(invariant, detail string) {}
