package testutil

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value uint32
}

// ExifTIFF builds a little-endian TIFF/EXIF block. IFD0 carries DateTime
// when modified is set; the EXIF sub-IFD carries DateTimeOriginal when
// original is set.
func ExifTIFF(t testing.TB, modified, original string) []byte {
	t.Helper()

	const (
		typeASCII = 2
		typeLong  = 4
	)

	ifd0Count := 1
	if modified != "" {
		ifd0Count++
	}
	exifCount := 0
	if original != "" {
		exifCount = 1
	}

	ifd0Off := 8
	exifOff := ifd0Off + 2 + 12*ifd0Count + 4
	dataOff := exifOff + 2 + 12*exifCount + 4

	var strs []byte
	var ifd0 []ifdEntry
	if modified != "" {
		ifd0 = append(ifd0, ifdEntry{0x0132, typeASCII, uint32(len(modified) + 1), uint32(dataOff + len(strs))})
		strs = append(strs, append([]byte(modified), 0)...)
	}
	ifd0 = append(ifd0, ifdEntry{0x8769, typeLong, 1, uint32(exifOff)})

	var exifIFD []ifdEntry
	if original != "" {
		exifIFD = append(exifIFD, ifdEntry{0x9003, typeASCII, uint32(len(original) + 1), uint32(dataOff + len(strs))})
		strs = append(strs, append([]byte(original), 0)...)
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(ifd0Off))

	writeIFD := func(entries []ifdEntry) {
		binary.Write(&buf, le, uint16(len(entries)))
		for _, e := range entries {
			binary.Write(&buf, le, e.tag)
			binary.Write(&buf, le, e.typ)
			binary.Write(&buf, le, e.count)
			binary.Write(&buf, le, e.value)
		}
		binary.Write(&buf, le, uint32(0))
	}
	writeIFD(ifd0)
	writeIFD(exifIFD)
	buf.Write(strs)

	if buf.Len() != dataOff+len(strs) {
		t.Fatalf("tiff layout: len = %d, want %d", buf.Len(), dataOff+len(strs))
	}
	return buf.Bytes()
}
