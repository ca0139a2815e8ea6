// Package volume exchanges scalar and vector volumes with the gradient
// engine. Volumes are stored as headerless little-endian float32 files whose
// dimensions come from configuration, voxel (i, j, k) at index i + X*j + X*Y*k.
package volume

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"caretcore/internal/models"
	"caretcore/pkg/algorithm"
)

const op = "volume"

// MagnitudeSuffix is appended to a vector volume path to name its magnitude file.
const MagnitudeSuffix = ".mag"

// Reader produces a scalar volume.
type Reader interface {
	ReadScalar() (*models.VolumeScalar, error)
}

// Writer consumes a vector volume.
type Writer interface {
	WriteVector(v *models.VolumeVector) error
}

// RawFile is a headerless float32 volume file.
type RawFile struct {
	Path    string
	X, Y, Z int
}

// NewRawFile describes the raw volume at path with the given dimensions.
func NewRawFile(path string, x, y, z int) RawFile {
	return RawFile{Path: path, X: x, Y: y, Z: z}
}

// ReadScalar loads the file. Its size must match the dimensions exactly.
func (f RawFile) ReadScalar() (*models.VolumeScalar, error) {
	if f.X <= 0 || f.Y <= 0 || f.Z <= 0 {
		return nil, algorithm.Errorf(algorithm.ErrEmptyInput, op, "dimensions %dx%dx%d", f.X, f.Y, f.Z)
	}
	vol := models.NewVolumeScalar(f.X, f.Y, f.Z)
	if err := readFloats(f.Path, vol.Data); err != nil {
		return nil, err
	}
	return vol, nil
}

// WriteScalar stores a scalar volume.
func (f RawFile) WriteScalar(v *models.VolumeScalar) error {
	return writeFloats(f.Path, v.Data)
}

// WriteVector stores the interleaved directions at Path and the magnitudes
// at Path + MagnitudeSuffix.
func (f RawFile) WriteVector(v *models.VolumeVector) error {
	if err := writeFloats(f.Path, v.Dir); err != nil {
		return err
	}
	return writeFloats(f.Path+MagnitudeSuffix, v.Mag)
}

// ReadVector loads a vector volume written by WriteVector.
func (f RawFile) ReadVector() (*models.VolumeVector, error) {
	v := models.NewVolumeVector(f.X, f.Y, f.Z)
	if err := readFloats(f.Path, v.Dir); err != nil {
		return nil, err
	}
	if err := readFloats(f.Path+MagnitudeSuffix, v.Mag); err != nil {
		return nil, err
	}
	return v, nil
}

func readFloats(path string, dst []float32) error {
	file, err := os.Open(path)
	if err != nil {
		return algorithm.Wrap(algorithm.ErrIoFailure, op, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return algorithm.Wrap(algorithm.ErrIoFailure, op, err)
	}
	if want := int64(4 * len(dst)); info.Size() != want {
		return algorithm.Errorf(algorithm.ErrInconsistent, op, "%s holds %d bytes, dimensions need %d", path, info.Size(), want)
	}

	if err := binary.Read(bufio.NewReader(file), binary.LittleEndian, dst); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return algorithm.Errorf(algorithm.ErrInconsistent, op, "%s is truncated", path)
		}
		return algorithm.Wrap(algorithm.ErrIoFailure, op, err)
	}
	return nil
}

func writeFloats(path string, src []float32) error {
	file, err := os.Create(path)
	if err != nil {
		return algorithm.Wrap(algorithm.ErrIoFailure, op, err)
	}
	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, src); err != nil {
		file.Close()
		return algorithm.Wrap(algorithm.ErrIoFailure, op, fmt.Errorf("writing %s: %w", path, err))
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return algorithm.Wrap(algorithm.ErrIoFailure, op, err)
	}
	return algorithm.Wrap(algorithm.ErrIoFailure, op, file.Close())
}
