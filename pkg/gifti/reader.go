package gifti

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Listener receives data arrays as they are decoded. It returns an empty
// string to continue and a human-readable message to abort the read. The
// listener owns the array after the call.
type Listener interface {
	DataArrayRead(a *DataArray, index, total int) string
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(a *DataArray, index, total int) string

func (f ListenerFunc) DataArrayRead(a *DataArray, index, total int) string {
	return f(a, index, total)
}

type metaDataXML struct {
	MD []struct {
		Name  string `xml:"Name"`
		Value string `xml:"Value"`
	} `xml:"MD"`
}

func (m metaDataXML) toMetaData() MetaData {
	var md MetaData
	for _, e := range m.MD {
		if e.Name != "" {
			md = append(md, MD{Name: e.Name, Value: e.Value})
		}
	}
	return md
}

type dataArrayXML struct {
	MetaData metaDataXML `xml:"MetaData"`
	Data     string      `xml:"Data"`
}

// StreamFile reads the file at path and reports each data array to l.
func StreamFile(ctx context.Context, path string, l Listener) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening GIFTI file: %w", err)
	}
	defer f.Close()
	_, err = decode(ctx, f, filepath.Dir(path), l)
	return err
}

// Stream reads a GIFTI document from r. External data files are resolved
// relative to baseDir.
func Stream(ctx context.Context, r io.Reader, baseDir string, l Listener) error {
	_, err := decode(ctx, r, baseDir, l)
	return err
}

// ReadFile reads a whole file into memory.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening GIFTI file: %w", err)
	}
	defer f.Close()

	file := &File{}
	md, err := decode(context.Background(), f, filepath.Dir(path), ListenerFunc(func(a *DataArray, _, _ int) string {
		file.Arrays = append(file.Arrays, a)
		return ""
	}))
	if err != nil {
		return nil, err
	}
	file.MetaData = md
	return file, nil
}

func decode(ctx context.Context, r io.Reader, baseDir string, l Listener) (MetaData, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no GIFTI element", ErrFormat)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "GIFTI" {
			return nil, fmt.Errorf("%w: root element is %s but should be GIFTI", ErrFormat, se.Name.Local)
		}
		return decodeGifti(ctx, dec, se, baseDir, l)
	}
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func decodeGifti(ctx context.Context, dec *xml.Decoder, se xml.StartElement, baseDir string, l Listener) (MetaData, error) {
	version := attr(se, "Version")
	if version == "" {
		return nil, fmt.Errorf("%w: GIFTI file version unknown", ErrFormat)
	}
	if v, err := strconv.ParseFloat(version, 64); err != nil || v != 1.0 {
		return nil, fmt.Errorf("%w: GIFTI file must be version %s but is %s", ErrFormat, Version, version)
	}
	total, err := strconv.Atoi(attr(se, "NumberOfDataArrays"))
	if err != nil || total < 0 {
		return nil, fmt.Errorf("%w: NumberOfDataArrays missing or invalid", ErrFormat)
	}

	var md MetaData
	index := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if index != total {
				return nil, fmt.Errorf("%w: file declares %d data arrays but holds %d", ErrFormat, total, index)
			}
			return md, nil
		case xml.StartElement:
			switch t.Name.Local {
			case "MetaData":
				var mx metaDataXML
				if err := dec.DecodeElement(&mx, &t); err != nil {
					return nil, fmt.Errorf("%w: metadata: %v", ErrFormat, err)
				}
				md = mx.toMetaData()
			case "LabelTable":
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("%w: label table: %v", ErrFormat, err)
				}
			case "DataArray":
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				a, err := decodeDataArray(dec, t, baseDir)
				if err != nil {
					return nil, fmt.Errorf("data array %d: %w", index, err)
				}
				if msg := l.DataArrayRead(a, index, total); msg != "" {
					return nil, fmt.Errorf("%w: %s", ErrAborted, msg)
				}
				index++
			default:
				return nil, fmt.Errorf("%w: unrecognized child %s of GIFTI element", ErrFormat, t.Name.Local)
			}
		}
	}
}

func decodeDataArray(dec *xml.Decoder, se xml.StartElement, baseDir string) (*DataArray, error) {
	a := &DataArray{Intent: attr(se, "Intent")}
	if !validIntent(a.Intent) {
		return nil, fmt.Errorf("%w: intent name invalid: %q", ErrFormat, a.Intent)
	}

	var err error
	if a.DataType, err = ParseDataType(attr(se, "DataType")); err != nil {
		return nil, err
	}
	if a.Encoding, err = ParseEncoding(attr(se, "Encoding")); err != nil {
		return nil, err
	}
	if a.Endian, err = ParseEndian(attr(se, "Endian")); err != nil {
		return nil, err
	}
	if a.Order, err = ParseOrder(attr(se, "ArrayIndexingOrder")); err != nil {
		return nil, err
	}
	if off := attr(se, "ExternalFileOffset"); off != "" {
		if a.ExternalFileOffset, err = strconv.ParseInt(off, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: file offset is not an integer (%s)", ErrFormat, off)
		}
	}
	a.ExternalFileName = attr(se, "ExternalFileName")

	dimensionality := attr(se, "Dimensionality")
	if dimensionality == "" {
		return nil, fmt.Errorf("%w: required attribute Dimensionality not found", ErrFormat)
	}
	numDims, err := strconv.Atoi(dimensionality)
	if err != nil || numDims < 1 {
		return nil, fmt.Errorf("%w: invalid Dimensionality %q", ErrFormat, dimensionality)
	}
	for i := 0; i < numDims; i++ {
		name := "Dim" + strconv.Itoa(i)
		d, err := strconv.Atoi(attr(se, name))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: required dimension %s not found", ErrFormat, name)
		}
		a.Dims = append(a.Dims, d)
	}

	var body dataArrayXML
	if err := dec.DecodeElement(&body, &se); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	a.MetaData = body.MetaData.toMetaData()
	if err := decodeData(a, body.Data, baseDir); err != nil {
		return nil, err
	}
	return a, nil
}
