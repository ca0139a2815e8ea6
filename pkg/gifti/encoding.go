package gifti

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

func byteOrder(e Endian) binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// decodeData fills a.Data from the text content of its Data element.
func decodeData(a *DataArray, text string, baseDir string) error {
	n := a.NumElements()
	switch a.Encoding {
	case EncodingASCII:
		fields := strings.Fields(text)
		if len(fields) != n {
			return fmt.Errorf("%w: ASCII data has %d values, dimensions need %d", ErrFormat, len(fields), n)
		}
		a.Data = make([]float32, n)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return fmt.Errorf("%w: ASCII value %q: %v", ErrFormat, f, err)
			}
			a.Data[i] = float32(v)
		}
		return nil

	case EncodingBase64Binary:
		raw, err := decodeBase64(text)
		if err != nil {
			return err
		}
		return a.fromBytes(raw)

	case EncodingGZipBase64Binary:
		compressed, err := decodeBase64(text)
		if err != nil {
			return err
		}
		zr, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return fmt.Errorf("%w: decompressing data: %v", ErrFormat, err)
		}
		defer zr.Close()
		raw := make([]byte, n*a.DataType.Size())
		if _, err := io.ReadFull(zr, raw); err != nil {
			return fmt.Errorf("%w: decompressed data shorter than %d bytes: %v", ErrFormat, len(raw), err)
		}
		return a.fromBytes(raw)

	case EncodingExternalFileBinary:
		return a.readExternal(baseDir)
	}
	return fmt.Errorf("%w: unsupported encoding %v", ErrFormat, a.Encoding)
}

func decodeBase64(text string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, text)
	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding base64 data: %v", ErrFormat, err)
	}
	return raw, nil
}

func resolveExternal(name, baseDir string) string {
	if filepath.IsAbs(name) || baseDir == "" {
		return name
	}
	return filepath.Join(baseDir, name)
}

func (a *DataArray) readExternal(baseDir string) error {
	if a.ExternalFileName == "" {
		return fmt.Errorf("%w: external file name is empty", ErrFormat)
	}
	path := resolveExternal(a.ExternalFileName, baseDir)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening external data: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(a.ExternalFileOffset, io.SeekStart); err != nil {
		return fmt.Errorf("moving to offset %d in %s: %w", a.ExternalFileOffset, path, err)
	}
	raw := make([]byte, a.NumElements()*a.DataType.Size())
	if n, err := io.ReadFull(f, raw); err != nil {
		return fmt.Errorf("tried to read %d bytes from %s but only read %d: %w", len(raw), path, n, err)
	}
	return a.fromBytes(raw)
}

// fromBytes converts raw element bytes in the array's endian to float32.
func (a *DataArray) fromBytes(raw []byte) error {
	n := a.NumElements()
	size := a.DataType.Size()
	if len(raw) < n*size {
		return fmt.Errorf("%w: %d bytes of data, dimensions need %d", ErrFormat, len(raw), n*size)
	}
	order := byteOrder(a.Endian)
	a.Data = make([]float32, n)
	for i := 0; i < n; i++ {
		b := raw[i*size:]
		switch a.DataType {
		case Float32:
			a.Data[i] = math.Float32frombits(order.Uint32(b))
		case Int32:
			a.Data[i] = float32(int32(order.Uint32(b)))
		case UInt8:
			a.Data[i] = float32(b[0])
		}
	}
	return nil
}

// Float32Bytes encodes values as little-endian float32 bytes.
func Float32Bytes(values []float32) []byte {
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return raw
}

// encodeData returns the text content of the Data element. External arrays
// are written to their external file here and yield no text.
func encodeData(a *DataArray, baseDir string) (string, error) {
	switch a.Encoding {
	case EncodingASCII:
		var sb strings.Builder
		cols := 1
		if len(a.Dims) > 1 {
			cols = a.Dims[len(a.Dims)-1]
		}
		for i, v := range a.Data {
			sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
			if (i+1)%cols == 0 {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		return sb.String(), nil

	case EncodingBase64Binary:
		return base64.StdEncoding.EncodeToString(Float32Bytes(a.Data)), nil

	case EncodingGZipBase64Binary:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(Float32Bytes(a.Data)); err != nil {
			return "", fmt.Errorf("compressing data: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("compressing data: %w", err)
		}
		return base64.StdEncoding.EncodeToString(buf.Bytes()), nil

	case EncodingExternalFileBinary:
		// Header-only arrays reference data produced elsewhere.
		if a.Data == nil {
			return "", nil
		}
		path := resolveExternal(a.ExternalFileName, baseDir)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return "", fmt.Errorf("creating external data file: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteAt(Float32Bytes(a.Data), a.ExternalFileOffset); err != nil {
			return "", fmt.Errorf("writing external data file: %w", err)
		}
		return "", nil
	}
	return "", fmt.Errorf("%w: unsupported encoding %v", ErrFormat, a.Encoding)
}
