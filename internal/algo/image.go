package algo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/bigbag/hpm-flasher/embedded"
	"github.com/bigbag/hpm-flasher/internal/target"
)

// RAM layout shared with the flash algorithm binary.
const (
	LoadBase   = 0x00000000
	StackBase  = LoadBase + 10240
	BufferBase = StackBase + 256

	// BufferSize is the staging buffer capacity used for program calls.
	BufferSize = 0x1000
)

// tailSize covers the four auxiliary addresses and the terminator pair.
const tailSize = 6 * 4

var terminator = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00}

// ErrImage is returned for a flash algorithm image with a broken layout.
var ErrImage = errors.New("invalid flash algorithm image")

// Tail holds the auxiliary addresses stored at the end of the image.
type Tail struct {
	Addrs [4]uint32
}

// ImageTail decodes the auxiliary address block at the end of image.
func ImageTail(image []byte) (Tail, error) {
	var tail Tail
	if err := ValidateImage(image); err != nil {
		return tail, err
	}
	block := image[len(image)-tailSize:]
	for i := range tail.Addrs {
		tail.Addrs[i] = binary.LittleEndian.Uint32(block[i*4:])
	}
	return tail, nil
}

// ValidateImage checks that image fits below the algorithm stack and ends
// with the (0xFFFFFFFF, 0x00000000) terminator pair.
func ValidateImage(image []byte) error {
	if len(image) < tailSize {
		return fmt.Errorf("%w: %d bytes is too short", ErrImage, len(image))
	}
	if len(image) > StackBase-LoadBase {
		return fmt.Errorf("%w: %d bytes overlaps the stack at 0x%X", ErrImage, len(image), StackBase)
	}
	if !bytes.Equal(image[len(image)-len(terminator):], terminator) {
		return fmt.Errorf("%w: missing terminator", ErrImage)
	}
	return nil
}

// Loader writes the flash algorithm image into target RAM.
type Loader struct {
	image []byte
}

// NewLoader returns a Loader for image. A nil image selects the embedded one.
func NewLoader(image []byte) (*Loader, error) {
	if image == nil {
		image = embedded.FlashAlgo()
	}
	tail, err := ImageTail(image)
	if err != nil {
		return nil, err
	}
	log.Debugf("flash algorithm: %d bytes, aux 0x%X 0x%X 0x%X 0x%X",
		len(image), tail.Addrs[0], tail.Addrs[1], tail.Addrs[2], tail.Addrs[3])
	return &Loader{image: image}, nil
}

// Image returns the image bytes.
func (l *Loader) Image() []byte {
	return l.image
}

// Load writes the image verbatim at LoadBase. It is safe to call again
// whenever target RAM may have been lost.
func (l *Loader) Load(t target.Transport) error {
	log.Debugf("loading flash algorithm (%d bytes) at 0x%08X", len(l.image), LoadBase)
	if err := t.WriteMemory(LoadBase, l.image); err != nil {
		return fmt.Errorf("failed to load flash algorithm: %w", err)
	}
	return nil
}
