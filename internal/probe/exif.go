package probe

import (
	"io"

	"github.com/rwcarlsen/goexif/exif"
)

// Orientation is the EXIF orientation tag (0x0112).
type Orientation int

const (
	OrientNormal      Orientation = 1
	OrientFlipH       Orientation = 2
	OrientRotate180   Orientation = 3
	OrientFlipV       Orientation = 4
	OrientTranspose   Orientation = 5
	OrientRotate90CW  Orientation = 6
	OrientTransverse  Orientation = 7
	OrientRotate270CW Orientation = 8
)

// Rotation returns the clockwise rotation in degrees needed to display the
// image upright. Mirroring is ignored; only the quarter turns matter for size.
func (o Orientation) Rotation() int {
	switch o {
	case OrientRotate180, OrientFlipV:
		return 180
	case OrientRotate90CW, OrientTransverse:
		return 90
	case OrientRotate270CW, OrientTranspose:
		return 270
	}
	return 0
}

// readOrientation reads the orientation tag from the EXIF data of a JPEG.
// Missing or unreadable EXIF data, or an out of range value, yields
// OrientNormal.
func readOrientation(r io.Reader) Orientation {
	x, err := exif.Decode(r)
	if err != nil {
		return OrientNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientNormal
	}
	v, err := tag.Int(0)
	if err != nil {
		return OrientNormal
	}
	if o := Orientation(v); o >= OrientNormal && o <= OrientRotate270CW {
		return o
	}
	return OrientNormal
}
