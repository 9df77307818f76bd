package model

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/tsawler/go-medclip/tensor"
)

const nvidiaLibraryPath = "/usr/lib64-nvidia"

// ConfigureAccelerator performs the one-time accelerator driver library
// configuration. Failure is reported but never fatal: the caller continues
// on the best available device.
func ConfigureAccelerator() {
	if err := exec.Command("ldconfig", nvidiaLibraryPath).Run(); err != nil {
		fmt.Printf("Error configuring NVIDIA library: %v\n", err)
		return
	}
	fmt.Println("NVIDIA library configured successfully.")
}

// DetectDevice returns the best available compute device. The GPU path is
// selected when the NVIDIA driver interface is present.
func DetectDevice() tensor.DeviceType {
	if _, err := os.Stat("/proc/driver/nvidia"); err == nil {
		return tensor.GPU
	}
	return tensor.CPU
}
