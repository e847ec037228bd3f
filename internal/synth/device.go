package synth

import (
	"fmt"
	"os"

	"github.com/lamim/animeforge/internal/config"
)

// nvidiaDeviceNode is present on hosts with the NVIDIA driver loaded
const nvidiaDeviceNode = "/dev/nvidia0"

// Overridden in tests
var (
	statFn   = os.Stat
	lookupFn = os.LookupEnv
)

// DetectDevice resolves a device preference. "auto" picks cuda when an NVIDIA
// device node or CUDA_VISIBLE_DEVICES is present, otherwise cpu.
func DetectDevice(pref string) string {
	switch pref {
	case config.DeviceCUDA, config.DeviceCPU:
		return pref
	}

	if v, ok := lookupFn("CUDA_VISIBLE_DEVICES"); ok && v != "" && v != "-1" {
		return config.DeviceCUDA
	}
	if _, err := statFn(nvidiaDeviceNode); err == nil {
		return config.DeviceCUDA
	}
	return config.DeviceCPU
}

// CheckModelPath verifies a local checkpoint file or directory exists
func CheckModelPath(path string) error {
	if _, err := statFn(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return fmt.Errorf("failed to stat model path: %w", err)
	}
	return nil
}
