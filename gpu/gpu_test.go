//go:build !nogpu

package gpu

import (
	"testing"

	"github.com/gogpu/patchmatch"
)

func TestRegistered(t *testing.T) {
	a := patchmatch.Accelerator()
	if a == nil {
		t.Fatal("importing gpu did not register an accelerator")
	}
	if a.Name() != "wgpu" {
		t.Errorf("Accelerator().Name() = %q, want wgpu", a.Name())
	}
}

func TestSetDeviceProviderRejectsUnknown(t *testing.T) {
	if err := SetDeviceProvider("not a device"); err == nil {
		t.Error("SetDeviceProvider accepted a provider without HAL access")
	}
}
