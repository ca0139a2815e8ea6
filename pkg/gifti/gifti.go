// Package gifti reads and writes the GIFTI XML container used for surface
// metric data. Only float32-convertible arrays are supported, which covers
// every array the correlation engine consumes.
//
// Arrays can be consumed one at a time with Stream, so a file holding
// thousands of metric columns never has to be resident at once.
package gifti

import (
	"errors"
	"fmt"
	"strings"
)

// Version is the only GIFTI version understood.
const Version = "1.0"

// IntentNone is the default intent for data arrays without a specific meaning.
const IntentNone = "NIFTI_INTENT_NONE"

var (
	// ErrFormat is returned for malformed or unsupported files.
	ErrFormat = errors.New("gifti: invalid file")

	// ErrAborted is returned when a stream listener rejects an array.
	ErrAborted = errors.New("gifti: read aborted by listener")
)

// Encoding is the representation of the array data inside or next to the XML.
type Encoding int

const (
	EncodingASCII Encoding = iota
	EncodingBase64Binary
	EncodingGZipBase64Binary
	EncodingExternalFileBinary
)

var encodingNames = map[Encoding]string{
	EncodingASCII:              "ASCII",
	EncodingBase64Binary:       "Base64Binary",
	EncodingGZipBase64Binary:   "GZipBase64Binary",
	EncodingExternalFileBinary: "ExternalFileBinary",
}

func (e Encoding) String() string {
	if s, ok := encodingNames[e]; ok {
		return s
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// ParseEncoding converts an Encoding attribute value.
func ParseEncoding(s string) (Encoding, error) {
	for e, name := range encodingNames {
		if name == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown encoding %q", ErrFormat, s)
}

// DataType is the element type stored in the file.
type DataType int

const (
	Float32 DataType = iota
	Int32
	UInt8
)

var dataTypeNames = map[DataType]string{
	Float32: "NIFTI_TYPE_FLOAT32",
	Int32:   "NIFTI_TYPE_INT32",
	UInt8:   "NIFTI_TYPE_UINT8",
}

func (d DataType) String() string { return dataTypeNames[d] }

// Size is the number of bytes per element.
func (d DataType) Size() int {
	switch d {
	case UInt8:
		return 1
	default:
		return 4
	}
}

// ParseDataType converts a DataType attribute value.
func ParseDataType(s string) (DataType, error) {
	for d, name := range dataTypeNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown data type %q", ErrFormat, s)
}

// Endian is the byte order of binary encodings.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "BigEndian"
	}
	return "LittleEndian"
}

// ParseEndian converts an Endian attribute value.
func ParseEndian(s string) (Endian, error) {
	switch s {
	case "LittleEndian":
		return LittleEndian, nil
	case "BigEndian":
		return BigEndian, nil
	}
	return 0, fmt.Errorf("%w: unknown endian %q", ErrFormat, s)
}

// Order is the array subscripting order.
type Order int

const (
	RowMajor Order = iota
	ColumnMajor
)

func (o Order) String() string {
	if o == ColumnMajor {
		return "ColumnMajorOrder"
	}
	return "RowMajorOrder"
}

// ParseOrder converts an ArrayIndexingOrder attribute value.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "RowMajorOrder", "":
		return RowMajor, nil
	case "ColumnMajorOrder":
		return ColumnMajor, nil
	}
	return 0, fmt.Errorf("%w: unknown array indexing order %q", ErrFormat, s)
}

// MD is one metadata entry.
type MD struct {
	Name  string
	Value string
}

// MetaData is an ordered list of name/value pairs.
type MetaData []MD

// Get returns the value stored under name.
func (m MetaData) Get(name string) (string, bool) {
	for _, md := range m {
		if md.Name == name {
			return md.Value, true
		}
	}
	return "", false
}

// Set replaces or appends the value stored under name.
func (m *MetaData) Set(name, value string) {
	for i := range *m {
		if (*m)[i].Name == name {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, MD{Name: name, Value: value})
}

// DataArray is one array of the container. Data is always held as float32
// in the subscripting order recorded in Order.
type DataArray struct {
	Intent   string
	DataType DataType
	Order    Order
	Dims     []int
	Encoding Encoding
	Endian   Endian

	// ExternalFileName and ExternalFileOffset locate the data for
	// EncodingExternalFileBinary. Relative names resolve against the XML file.
	ExternalFileName   string
	ExternalFileOffset int64

	MetaData MetaData
	Data     []float32
}

// NewDataArray creates a float32 array with the given dimensions.
func NewDataArray(dims []int, encoding Encoding) *DataArray {
	a := &DataArray{
		Intent:   IntentNone,
		DataType: Float32,
		Order:    RowMajor,
		Dims:     append([]int(nil), dims...),
		Encoding: encoding,
		Endian:   LittleEndian,
	}
	a.Data = make([]float32, a.NumElements())
	return a
}

// NumElements is the product of the dimensions.
func (a *DataArray) NumElements() int {
	if len(a.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// Float32 returns the array data.
func (a *DataArray) Float32() []float32 { return a.Data }

// Dimensions returns the array dimensions.
func (a *DataArray) Dimensions() []int { return a.Dims }

// SubscriptOrder returns the subscripting order of Data.
func (a *DataArray) SubscriptOrder() Order { return a.Order }

// ToRowMajor converts a two-dimensional column-major array to row-major in
// place. One-dimensional arrays only have their order relabelled.
func (a *DataArray) ToRowMajor() error {
	if a.Order == RowMajor {
		return nil
	}
	switch len(a.Dims) {
	case 0, 1:
	case 2:
		rows, cols := a.Dims[0], a.Dims[1]
		out := make([]float32, len(a.Data))
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				out[i*cols+j] = a.Data[i+j*rows]
			}
		}
		a.Data = out
	default:
		return fmt.Errorf("%w: order conversion unavailable for %d dimensions", ErrFormat, len(a.Dims))
	}
	a.Order = RowMajor
	return nil
}

func validIntent(intent string) bool {
	return strings.HasPrefix(intent, "NIFTI_INTENT_")
}

// File is a GIFTI container. Arrays do not point back at the file; callers
// that edit an array in place mark the file with SetModified.
type File struct {
	MetaData MetaData
	Arrays   []*DataArray

	modified bool
}

// AddDataArray appends an array and marks the file modified.
func (f *File) AddDataArray(a *DataArray) {
	f.Arrays = append(f.Arrays, a)
	f.modified = true
}

// SetModified marks the file as changed since it was read or written.
func (f *File) SetModified() { f.modified = true }

// ClearModified resets the modified flag.
func (f *File) ClearModified() { f.modified = false }

// Modified reports whether the file changed since it was read or written.
func (f *File) Modified() bool { return f.modified }
