package imgcrush

import (
	"bytes"
	"encoding/binary"
	"image"
)

// Orientation is an EXIF orientation tag value.
type Orientation int

const (
	OrientNormal      Orientation = 1
	OrientFlipH       Orientation = 2
	OrientRotate180   Orientation = 3
	OrientFlipV       Orientation = 4
	OrientTranspose   Orientation = 5 // mirrored along the main diagonal
	OrientRotate90CW  Orientation = 6
	OrientTransverse  Orientation = 7 // mirrored along the anti-diagonal
	OrientRotate270CW Orientation = 8
)

var exifHeader = []byte("Exif\x00\x00")

// findEXIF locates the APP1 EXIF segment (marker, length and payload) of a
// JPEG stream. Scanning stops at start-of-scan.
func findEXIF(data []byte) (start, end int, ok bool) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0, 0, false
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return 0, 0, false
		}
		marker := data[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			return 0, 0, false
		}
		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		next := pos + 2 + segLen
		if segLen < 2 || next > len(data) {
			return 0, 0, false
		}
		if marker == 0xE1 && bytes.HasPrefix(data[pos+4:next], exifHeader) {
			return pos, next, true
		}
		pos = next
	}
	return 0, 0, false
}

// exifSegment returns the EXIF segment of a JPEG stream, or nil.
func exifSegment(data []byte) []byte {
	start, end, ok := findEXIF(data)
	if !ok {
		return nil
	}
	return data[start:end]
}

// spliceEXIF inserts seg directly after the SOI marker of a JPEG stream,
// replacing any EXIF segment the stream already carries.
func spliceEXIF(jpegData, seg []byte) []byte {
	if len(seg) == 0 || len(jpegData) < 2 || jpegData[0] != 0xFF || jpegData[1] != 0xD8 {
		return jpegData
	}
	out := make([]byte, 0, len(jpegData)+len(seg))
	out = append(out, 0xFF, 0xD8)
	out = append(out, seg...)
	if start, end, ok := findEXIF(jpegData); ok {
		out = append(out, jpegData[2:start]...)
		return append(out, jpegData[end:]...)
	}
	return append(out, jpegData[2:]...)
}

// ReadOrientation returns the EXIF orientation of a JPEG stream, or
// OrientNormal when absent or unparseable.
func ReadOrientation(data []byte) Orientation {
	seg := exifSegment(data)
	if seg == nil {
		return OrientNormal
	}
	tiff := seg[4+len(exifHeader):]
	if len(tiff) < 8 {
		return OrientNormal
	}

	var bo binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return OrientNormal
	}
	if bo.Uint16(tiff[2:4]) != 42 {
		return OrientNormal
	}

	ifd := int(bo.Uint32(tiff[4:8]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return OrientNormal
	}
	entries := int(bo.Uint16(tiff[ifd : ifd+2]))
	for i := 0; i < entries; i++ {
		e := ifd + 2 + i*12
		if e+12 > len(tiff) {
			break
		}
		if bo.Uint16(tiff[e:e+2]) != 0x0112 {
			continue
		}
		// SHORT only.
		if bo.Uint16(tiff[e+2:e+4]) != 3 {
			return OrientNormal
		}
		if v := Orientation(bo.Uint16(tiff[e+8 : e+10])); v >= OrientNormal && v <= OrientRotate270CW {
			return v
		}
		return OrientNormal
	}
	return OrientNormal
}

// ApplyOrientation returns img transformed so it displays upright with
// orientation 1. img is returned unchanged for OrientNormal.
func ApplyOrientation(img *image.NRGBA, o Orientation) *image.NRGBA {
	switch o {
	case OrientFlipH:
		return flipH(img)
	case OrientRotate180:
		return rotate180(img)
	case OrientFlipV:
		return flipV(img)
	case OrientTranspose:
		return flipH(rotate90(img))
	case OrientRotate90CW:
		return rotate90(img)
	case OrientTransverse:
		return flipH(rotate270(img))
	case OrientRotate270CW:
		return rotate270(img)
	default:
		return img
	}
}
