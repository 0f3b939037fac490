package mmu

import (
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Image is the serialized state of the memory unit
type Image struct {
	FrameCount uint32 `msgpack:"frame_count"`
	KernelPSW  uint64 `msgpack:"kernel_psw"`
	PSW        uint64 `msgpack:"psw"`
	Memory     []byte `msgpack:"memory"`
}

// DumpMemory writes a msgpack image of the memory unit to w
func (m *MMU) DumpMemory(w io.Writer) error {
	img := Image{
		FrameCount: m.frameCount,
		KernelPSW:  m.kernelPSW.Get(),
		PSW:        m.psw.Get(),
		Memory:     m.Memory,
	}
	return errors.Wrap(msgpack.NewEncoder(w).Encode(&img), "encoding memory image")
}

// ReadImage decodes an image written by DumpMemory
func ReadImage(r io.Reader) (*Image, error) {
	img := new(Image)
	if err := msgpack.NewDecoder(r).Decode(img); err != nil {
		return nil, errors.Wrap(err, "decoding memory image")
	}
	return img, nil
}
