//go:build nogpu

package gpu

// SetDeviceProvider is a no-op when built with -tags nogpu.
func SetDeviceProvider(any) error { return nil }
