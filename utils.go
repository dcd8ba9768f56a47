package msodump

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var codepages = map[uint16]encoding.Encoding{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	866:   charmap.CodePage866,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
}

// decodeUTF16 decodes little endian UTF-16 text.
func decodeUTF16(data []byte) string {
	result, err := unicode.UTF16(
		unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// decodeCodepage decodes single byte text in the project code page,
// defaulting to Windows-1252.
func decodeCodepage(data []byte, codepage uint16) string {
	enc, pres := codepages[codepage]
	if !pres {
		enc = charmap.Windows1252
	}

	result, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
