package gifti

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Write stores the file at path. External arrays without an explicit file
// name are packed back to back into "<path>.data", referenced relative to
// the XML file.
func (f *File) Write(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating GIFTI file: %w", err)
	}
	defer out.Close()

	baseDir := filepath.Dir(path)
	var offset int64
	for _, a := range f.Arrays {
		if a.Encoding == EncodingExternalFileBinary && a.ExternalFileName == "" {
			a.ExternalFileName = filepath.Base(path) + ".data"
			a.ExternalFileOffset = offset
			offset += int64(4 * a.NumElements())
		}
	}

	w := bufio.NewWriter(out)
	if err := f.encode(w, baseDir); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing GIFTI file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing GIFTI file: %w", err)
	}
	f.ClearModified()
	return nil
}

func escape(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

// cdata splits every "]]>" across two CDATA sections so s can be embedded
// in one.
func cdata(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

func writeMetaData(w io.Writer, md MetaData, indent string) {
	if len(md) == 0 {
		return
	}
	fmt.Fprintf(w, "%s<MetaData>\n", indent)
	for _, e := range md {
		fmt.Fprintf(w, "%s   <MD>\n", indent)
		fmt.Fprintf(w, "%s      <Name><![CDATA[%s]]></Name>\n", indent, cdata(e.Name))
		fmt.Fprintf(w, "%s      <Value><![CDATA[%s]]></Value>\n", indent, cdata(e.Value))
		fmt.Fprintf(w, "%s   </MD>\n", indent)
	}
	fmt.Fprintf(w, "%s</MetaData>\n", indent)
}

func (f *File) encode(w *bufio.Writer, baseDir string) error {
	fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(w, "<!DOCTYPE GIFTI SYSTEM \"http://www.nitrc.org/frs/download.php/115/gifti.dtd\">\n")
	fmt.Fprintf(w, "<GIFTI Version=\"%s\" NumberOfDataArrays=\"%d\">\n", Version, len(f.Arrays))
	writeMetaData(w, f.MetaData, "   ")

	for i, a := range f.Arrays {
		if a.Data != nil && len(a.Data) != a.NumElements() {
			return fmt.Errorf("data array %d holds %d values but dimensions need %d", i, len(a.Data), a.NumElements())
		}
		text, err := encodeData(a, baseDir)
		if err != nil {
			return fmt.Errorf("data array %d: %w", i, err)
		}
		intent := a.Intent
		if intent == "" {
			intent = IntentNone
		}

		fmt.Fprintf(w, "   <DataArray Intent=\"%s\"\n", escape(intent))
		fmt.Fprintf(w, "              DataType=\"%s\"\n", Float32)
		fmt.Fprintf(w, "              ArrayIndexingOrder=\"%s\"\n", a.Order)
		fmt.Fprintf(w, "              Dimensionality=\"%d\"\n", len(a.Dims))
		for d, n := range a.Dims {
			fmt.Fprintf(w, "              Dim%d=\"%d\"\n", d, n)
		}
		fmt.Fprintf(w, "              Encoding=\"%s\"\n", a.Encoding)
		fmt.Fprintf(w, "              Endian=\"%s\"\n", LittleEndian)
		fmt.Fprintf(w, "              ExternalFileName=\"%s\"\n", escape(a.ExternalFileName))
		fmt.Fprintf(w, "              ExternalFileOffset=\"%d\">\n", a.ExternalFileOffset)
		writeMetaData(w, a.MetaData, "      ")
		fmt.Fprintf(w, "      <Data>%s</Data>\n", text)
		fmt.Fprintf(w, "   </DataArray>\n")
	}
	fmt.Fprintf(w, "</GIFTI>\n")
	return nil
}
