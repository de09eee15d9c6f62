package testutil

import (
	"os"
	"strings"
	"testing"
)

// EnvPrefix marks the environment variables the hub reads.
const EnvPrefix = "MODHUB_"

// WithIsolatedEnv unsets every MODHUB_ variable, runs fn and restores the
// previous values.
func WithIsolatedEnv(fn func()) {
	restore := clearEnv()
	defer restore()
	fn()
}

// Isolate is the *testing.T variant of WithIsolatedEnv: the variables are
// restored by t.Cleanup. Tests calling it must not run in parallel with
// tests reading MODHUB_ variables.
func Isolate(t *testing.T) {
	t.Helper()
	t.Cleanup(clearEnv())
}

func clearEnv() func() {
	snapshot := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvPrefix) {
			snapshot[k] = v
			_ = os.Unsetenv(k)
		}
	}
	return func() {
		for _, kv := range os.Environ() {
			k, _, _ := strings.Cut(kv, "=")
			if strings.HasPrefix(k, EnvPrefix) {
				_ = os.Unsetenv(k)
			}
		}
		for k, v := range snapshot {
			_ = os.Setenv(k, v)
		}
	}
}
