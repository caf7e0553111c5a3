package embedded

import (
	_ "embed"
)

//go:embed hpm_flash_algo.bin
var flashAlgo []byte

// FlashAlgo returns the embedded XPI flash algorithm image.
// It is position dependent and must be loaded at algo.LoadBase.
func FlashAlgo() []byte {
	return flashAlgo
}
