// Package visualization renders slices of scalar volumes as grayscale images.
// The gradient tool uses it to dump magnitude slices for inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"caretcore/internal/models"
)

// Viewer extracts axis-aligned slices from a volume. Intensities are mapped
// linearly from the volume's [min, max] range onto 16-bit gray.
type Viewer struct {
	// volume is the data being viewed
	volume *models.VolumeScalar

	// lo and hi are the intensity window
	lo, hi float32
}

// NewViewer creates a viewer windowed to the full intensity range of vol.
func NewViewer(vol *models.VolumeScalar) *Viewer {
	v := &Viewer{volume: vol}
	if len(vol.Data) > 0 {
		v.lo, v.hi = vol.Data[0], vol.Data[0]
		for _, x := range vol.Data {
			v.lo = min(v.lo, x)
			v.hi = max(v.hi, x)
		}
	}
	return v
}

// MagnitudeVolume exposes the magnitudes of a gradient volume as a scalar
// volume sharing the same storage.
func MagnitudeVolume(vv *models.VolumeVector) *models.VolumeScalar {
	return &models.VolumeScalar{Data: vv.Mag, X: vv.X, Y: vv.Y, Z: vv.Z}
}

// gray maps an intensity onto the window.
func (v *Viewer) gray(value float32) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	scaled := float64(value-v.lo) / float64(v.hi-v.lo) * 65535
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, math.Round(scaled))))}
}

// ExtractSlice extracts a 2D slice perpendicular to axis at position.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.volume

	var img *image.Gray16
	switch axis {
	case "x", "X":
		// YZ plane
		if position >= vol.X {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.X)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Z, vol.Y))
		for y := 0; y < vol.Y; y++ {
			for z := 0; z < vol.Z; z++ {
				img.SetGray16(z, y, v.gray(vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= vol.Y {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Y)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.X, vol.Z))
		for z := 0; z < vol.Z; z++ {
			for x := 0; x < vol.X; x++ {
				img.SetGray16(x, z, v.gray(vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= vol.Z {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Z)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.X, vol.Y))
		for y := 0; y < vol.Y; y++ {
			for x := 0; x < vol.X; x++ {
				img.SetGray16(x, y, v.gray(vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along axis into outputDir
// as slice_<axis>_NNN.jpg.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.X
	case "y", "Y":
		maxPos = v.volume.Y
	case "z", "Z":
		maxPos = v.volume.Z
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return fmt.Errorf("saving %s: %w", filename, err)
		}
	}

	return nil
}
