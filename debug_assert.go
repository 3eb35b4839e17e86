//go:build tlsloop_debug

package tlsloop

// assertTrigger panics with an *AssertionError. Only compiled into debug
// builds (-tags tlsloop_debug); the release build below is a no-op so the
// hot load/store path pays nothing for these checks in production.
func assertTrigger(invariant, detail string) {
	panic(&AssertionError{Invariant: invariant, Detail: detail})
}
