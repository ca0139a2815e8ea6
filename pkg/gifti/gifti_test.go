package gifti

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metricFile(encoding Encoding, rows, cols int) *File {
	f := &File{}
	f.MetaData.Set("Caret-Version", "5.6")
	for c := 0; c < cols; c++ {
		a := NewDataArray([]int{rows}, encoding)
		for r := 0; r < rows; r++ {
			a.Data[r] = float32(r*10+c) + 0.25
		}
		a.MetaData.Set("Name", "column "+string(rune('A'+c)))
		f.AddDataArray(a)
	}
	return f
}

func TestWriteReadEachEncoding(t *testing.T) {
	for _, enc := range []Encoding{EncodingASCII, EncodingBase64Binary, EncodingGZipBase64Binary, EncodingExternalFileBinary} {
		t.Run(enc.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "metric.func.gii")
			want := metricFile(enc, 7, 3)
			require.True(t, want.Modified())
			require.NoError(t, want.Write(path))
			assert.False(t, want.Modified())

			got, err := ReadFile(path)
			require.NoError(t, err)
			require.Len(t, got.Arrays, 3)
			v, ok := got.MetaData.Get("Caret-Version")
			assert.True(t, ok)
			assert.Equal(t, "5.6", v)
			for c, a := range got.Arrays {
				assert.Equal(t, enc, a.Encoding)
				assert.Equal(t, []int{7}, a.Dims)
				assert.Equal(t, want.Arrays[c].Data, a.Data)
				name, _ := a.MetaData.Get("Name")
				assert.Equal(t, "column "+string(rune('A'+c)), name)
			}
		})
	}
}

func TestStreamReportsArraysInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metric.func.gii")
	require.NoError(t, metricFile(EncodingGZipBase64Binary, 5, 4).Write(path))

	var seen []int
	err := StreamFile(context.Background(), path, ListenerFunc(func(a *DataArray, index, total int) string {
		assert.Equal(t, 4, total)
		assert.InDelta(t, float64(index)+0.25, float64(a.Data[0]), 1e-6)
		seen = append(seen, index)
		return ""
	}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, seen)
}

func TestStreamListenerAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metric.func.gii")
	require.NoError(t, metricFile(EncodingBase64Binary, 5, 4).Write(path))

	calls := 0
	err := StreamFile(context.Background(), path, ListenerFunc(func(*DataArray, int, int) string {
		calls++
		if calls == 2 {
			return "Data arrays must all have the same dimensions"
		}
		return ""
	}))
	require.ErrorIs(t, err, ErrAborted)
	assert.Contains(t, err.Error(), "same dimensions")
	assert.Equal(t, 2, calls)
}

func TestStreamHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metric.func.gii")
	require.NoError(t, metricFile(EncodingASCII, 3, 2).Write(path))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := StreamFile(ctx, path, ListenerFunc(func(*DataArray, int, int) string { return "" }))
	require.ErrorIs(t, err, context.Canceled)
}

func TestExternalBigEndianWithOffset(t *testing.T) {
	dir := t.TempDir()
	values := []float32{1.5, -2, 3.25, 4}
	raw := make([]byte, 8+4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(raw[8+4*i:], math.Float32bits(v))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "values.bin"), raw, 0644))

	doc := `<?xml version="1.0" encoding="UTF-8"?>
<GIFTI Version="1.0" NumberOfDataArrays="1">
  <DataArray Intent="NIFTI_INTENT_NONE" DataType="NIFTI_TYPE_FLOAT32" ArrayIndexingOrder="ColumnMajorOrder"
             Dimensionality="2" Dim0="2" Dim1="2" Encoding="ExternalFileBinary" Endian="BigEndian"
             ExternalFileName="values.bin" ExternalFileOffset="8">
    <Data></Data>
  </DataArray>
</GIFTI>`
	var got *DataArray
	err := Stream(context.Background(), strings.NewReader(doc), dir, ListenerFunc(func(a *DataArray, _, _ int) string {
		got = a
		return ""
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ColumnMajor, got.Order)
	assert.Equal(t, values, got.Data)

	require.NoError(t, got.ToRowMajor())
	assert.Equal(t, RowMajor, got.Order)
	assert.Equal(t, []float32{1.5, 3.25, -2, 4}, got.Data)
}

func TestIntegerTypesConvertToFloat(t *testing.T) {
	doc := `<GIFTI Version="1.0" NumberOfDataArrays="2">
  <DataArray Intent="NIFTI_INTENT_LABEL" DataType="NIFTI_TYPE_INT32" Dimensionality="1" Dim0="3"
             Encoding="ASCII" Endian="LittleEndian"><Data>-1 0 7</Data></DataArray>
  <DataArray Intent="NIFTI_INTENT_NONE" DataType="NIFTI_TYPE_UINT8" Dimensionality="1" Dim0="2"
             Encoding="Base64Binary" Endian="LittleEndian"><Data>Af8=</Data></DataArray>
</GIFTI>`
	var arrays []*DataArray
	err := Stream(context.Background(), strings.NewReader(doc), "", ListenerFunc(func(a *DataArray, _, _ int) string {
		arrays = append(arrays, a)
		return ""
	}))
	require.NoError(t, err)
	require.Len(t, arrays, 2)
	assert.Equal(t, []float32{-1, 0, 7}, arrays[0].Data)
	assert.Equal(t, []float32{1, 255}, arrays[1].Data)
}

func TestRejectsMalformedFiles(t *testing.T) {
	cases := map[string]string{
		"wrong root":    `<NIFTI Version="1.0" NumberOfDataArrays="0"></NIFTI>`,
		"bad version":   `<GIFTI Version="2.0" NumberOfDataArrays="0"></GIFTI>`,
		"no version":    `<GIFTI NumberOfDataArrays="0"></GIFTI>`,
		"count differs": `<GIFTI Version="1.0" NumberOfDataArrays="2"></GIFTI>`,
		"bad encoding": `<GIFTI Version="1.0" NumberOfDataArrays="1"><DataArray Intent="NIFTI_INTENT_NONE"
			DataType="NIFTI_TYPE_FLOAT32" Dimensionality="1" Dim0="1" Encoding="Morse" Endian="LittleEndian">
			<Data>1</Data></DataArray></GIFTI>`,
		"missing dim": `<GIFTI Version="1.0" NumberOfDataArrays="1"><DataArray Intent="NIFTI_INTENT_NONE"
			DataType="NIFTI_TYPE_FLOAT32" Dimensionality="2" Dim0="1" Encoding="ASCII" Endian="LittleEndian">
			<Data>1</Data></DataArray></GIFTI>`,
		"short ascii": `<GIFTI Version="1.0" NumberOfDataArrays="1"><DataArray Intent="NIFTI_INTENT_NONE"
			DataType="NIFTI_TYPE_FLOAT32" Dimensionality="1" Dim0="3" Encoding="ASCII" Endian="LittleEndian">
			<Data>1 2</Data></DataArray></GIFTI>`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			err := Stream(context.Background(), strings.NewReader(doc), "", ListenerFunc(func(*DataArray, int, int) string { return "" }))
			require.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestHeaderOnlyExternalArray(t *testing.T) {
	dir := t.TempDir()
	rows := []float32{1, 0.5, 0.5, 1}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corr.dat"), Float32Bytes(rows), 0644))

	f := &File{}
	f.AddDataArray(&DataArray{
		Intent:           IntentNone,
		Dims:             []int{2, 2},
		Encoding:         EncodingExternalFileBinary,
		ExternalFileName: "corr.dat",
	})
	path := filepath.Join(dir, "corr.gii")
	require.NoError(t, f.Write(path))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got.Arrays, 1)
	assert.Equal(t, rows, got.Arrays[0].Data)
}

func TestMetaDataSurvivesCDATATerminator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.func.gii")
	f := metricFile(EncodingBase64Binary, 2, 1)
	f.MetaData.Set("Comment", "a]]>b ]]]]> <tag> & done")
	f.Arrays[0].MetaData.Set("Name", "]]>")
	require.NoError(t, f.Write(path))

	got, err := ReadFile(path)
	require.NoError(t, err)
	v, ok := got.MetaData.Get("Comment")
	require.True(t, ok)
	assert.Equal(t, "a]]>b ]]]]> <tag> & done", v)
	name, _ := got.Arrays[0].MetaData.Get("Name")
	assert.Equal(t, "]]>", name)
}
