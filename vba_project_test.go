package msodump

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf16"

	"github.com/pkg/errors"
	"github.com/sebdah/goldie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	thisDocumentSource = "Attribute VB_Name = \"ThisDocument\"\r\n" +
		"Attribute VB_Base = \"1Normal.ThisDocument\"\r\n" +
		"Attribute VB_Creatable = False\r\n"

	module1Source = "Attribute VB_Name = \"Module1\"\r\n" +
		"Sub AutoOpen()\r\n" +
		"    MsgBox \"Hello from Module1\"\r\n" +
		"End Sub\r\n"

	projectStream = "ID=\"{2C5F1A4E-3B9D-4C1E-9A27-5D8E0F6B7C31}\"\r\n" +
		"Document=ThisDocument/&H00000000\r\n" +
		"Module=Module1\r\n" +
		"Name=\"Project\"\r\n" +
		"HelpContextID=\"0\"\r\n" +
		"\r\n" +
		"[Host Extender Info]\r\n" +
		"&H00000001={3832D640-CF90-11CF-8E43-00A0C911005A};VBE;&H00000000\r\n"
)

// dirBuilder writes the records of a decompressed dir stream.
type dirBuilder struct {
	bytes.Buffer
}

func (self *dirBuilder) u16(value uint16) {
	binary.Write(self, binary.LittleEndian, value)
}

func (self *dirBuilder) u32(value uint32) {
	binary.Write(self, binary.LittleEndian, value)
}

func (self *dirBuilder) record(id uint16, data []byte) {
	self.u16(id)
	self.u32(uint32(len(data)))
	self.Write(data)
}

func (self *dirBuilder) u32Record(id uint16, value uint32) {
	self.u16(id)
	self.u32(4)
	self.u32(value)
}

func utf16Bytes(value string) []byte {
	var buf bytes.Buffer
	for _, unit := range utf16.Encode([]rune(value)) {
		binary.Write(&buf, binary.LittleEndian, unit)
	}
	return buf.Bytes()
}

type testModule struct {
	name        string
	text_offset uint32
	document    bool
}

func buildDirStream(modules []testModule) []byte {
	b := &dirBuilder{}

	// PROJECTINFORMATION
	b.u32Record(0x0001, 1)
	b.u32Record(0x0002, 0x0409)
	b.u32Record(0x0014, 0x0409)
	b.u16(0x0003)
	b.u32(2)
	b.u16(1252)
	b.record(0x0004, []byte("Project"))
	b.record(0x0005, nil)
	b.record(0x0040, nil)
	b.record(0x0006, nil)
	b.record(0x003D, nil)
	b.u32Record(0x0007, 0)
	b.u32Record(0x0008, 0)
	b.u32Record(0x0009, 0x5BCEA1C2)
	b.u16(0x0006)
	b.record(0x000C, []byte("DEBUG=1"))
	b.record(0x003C, utf16Bytes("DEBUG=1"))

	// REFERENCENAME and REFERENCEREGISTERED
	libid := []byte("*\\G{00020430-0000-0000-C000-000000000046}#2.0#0#C:\\Windows\\System32\\stdole2.tlb#OLE Automation")
	b.record(0x0016, []byte("stdole"))
	b.record(0x003E, utf16Bytes("stdole"))
	b.u16(0x000D)
	b.u32(uint32(4 + len(libid) + 4 + 2))
	b.u32(uint32(len(libid)))
	b.Write(libid)
	b.u32(0)
	b.u16(0)

	// PROJECTMODULES and PROJECTCOOKIE
	b.u16(0x000F)
	b.u32(2)
	b.u16(uint16(len(modules)))
	b.u16(0x0013)
	b.u32(2)
	b.u16(0xFFFF)

	for _, module := range modules {
		b.record(0x0019, []byte(module.name))
		b.record(0x0047, utf16Bytes(module.name))
		b.record(0x001A, []byte(module.name))
		b.record(0x0032, utf16Bytes(module.name))
		b.record(0x001C, nil)
		b.record(0x0048, nil)
		b.u32Record(0x0031, module.text_offset)
		b.u32Record(0x001E, 0)
		b.u16(0x002C)
		b.u32(2)
		b.u16(0xFFFF)
		if module.document {
			b.u16(0x0022)
		} else {
			b.u16(0x0021)
		}
		b.u32(0)
		b.u16(0x002B)
		b.u32(0)
	}

	// Terminator
	b.u16(0x0010)
	b.u32(0)

	return b.Bytes()
}

// moduleStream prefixes the compressed source with an opaque
// performance cache of offset bytes.
func moduleStream(source string, offset uint32) []byte {
	return append(patternBytes(int(offset), 0x55), Compress([]byte(source))...)
}

func buildVBAProject() []byte {
	modules := []testModule{
		{name: "ThisDocument", text_offset: 0x1C, document: true},
		{name: "Module1", text_offset: 0x05},
	}

	image := &testImage{
		cutoff: 4096,
		streams: []testStream{
			{name: "PROJECT", data: []byte(projectStream)},
			{name: "PROJECTwm", data: []byte("ThisDocument\x00T\x00h\x00\x00\x00\x00\x00")},
			{name: "dir", data: Compress(buildDirStream(modules))},
			{name: "ThisDocument", data: moduleStream(thisDocumentSource, 0x1C)},
			{name: "Module1", data: moduleStream(module1Source, 0x05)},
		},
	}
	return image.build()
}

func TestMacros(t *testing.T) {
	macros, err := ParseBuffer(buildVBAProject())
	require.NoError(t, err)
	require.Equal(t, 2, len(macros))

	assert.Equal(t, "ThisDocument", macros[0].ModuleName)
	assert.Equal(t, CLASS_EXTENSION, macros[0].Type)
	assert.Equal(t, thisDocumentSource, macros[0].Code)

	assert.Equal(t, "Module1", macros[1].StreamName)
	assert.Equal(t, MODULE_EXTENSION, macros[1].Type)
	assert.Equal(t, module1Source, macros[1].Code)

	serialized, _ := json.MarshalIndent(macros, " ", " ")
	goldie.Assert(t, "vba_macros", serialized)
}

func TestMacrosFromZip(t *testing.T) {
	dir, err := ioutil.TempDir("", "msodump")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, data := range map[string][]byte{
		"[Content_Types].xml": []byte("<Types/>"),
		"word/vbaProject.bin": buildVBAProject(),
	} {
		out, err := writer.Create(name)
		require.NoError(t, err)
		_, err = out.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	filename := filepath.Join(dir, "test.docm")
	require.NoError(t, ioutil.WriteFile(filename, buf.Bytes(), 0644))

	macros, err := ParseFile(filename)
	require.NoError(t, err)
	require.Equal(t, 2, len(macros))
	assert.Equal(t, module1Source, macros[1].Code)

	// The same project stored as a plain compound file.
	filename = filepath.Join(dir, "test.doc")
	require.NoError(t, ioutil.WriteFile(filename, buildVBAProject(), 0644))

	macros, err = ParseFile(filename)
	require.NoError(t, err)
	assert.Equal(t, 2, len(macros))
}

func TestMacrosMissingStreams(t *testing.T) {
	image := &testImage{
		cutoff: 4096,
		streams: []testStream{
			{name: "WordDocument", data: patternBytes(200, 1)},
		},
	}

	_, err := ParseBuffer(image.build())
	assert.True(t, errors.Is(err, ErrStreamNotFound))
}

func TestMacrosSkipsMissingModuleStream(t *testing.T) {
	modules := []testModule{
		{name: "Sheet1", text_offset: 0, document: true},
		{name: "Module1", text_offset: 0x05},
	}

	image := &testImage{
		cutoff: 4096,
		streams: []testStream{
			{name: "PROJECT", data: []byte(projectStream)},
			{name: "dir", data: Compress(buildDirStream(modules))},
			{name: "Module1", data: moduleStream(module1Source, 0x05)},
		},
	}

	macros, err := ParseBuffer(image.build())
	require.NoError(t, err)
	require.Equal(t, 1, len(macros))
	assert.Equal(t, "Module1", macros[0].ModuleName)
}

func TestMacrosCorruptDir(t *testing.T) {
	dir := buildDirStream([]testModule{{name: "Module1"}})

	// Invalid PROJECTSYSKIND
	corrupt := append([]byte{}, dir...)
	putU32(corrupt, 6, 9)

	image := &testImage{
		cutoff: 4096,
		streams: []testStream{
			{name: "PROJECT", data: []byte(projectStream)},
			{name: "dir", data: Compress(corrupt)},
		},
	}
	_, err := ParseBuffer(image.build())
	assert.True(t, errors.Is(err, ErrCorruptStream))

	// Truncated module records.
	image.streams[1].data = Compress(dir[:len(dir)-20])
	_, err = ParseBuffer(image.build())
	assert.True(t, errors.Is(err, ErrCorruptStream))

	// An uncompressed dir stream happens to start with the signature
	// byte but its chunk headers are garbage.
	image.streams[1].data = dir
	_, err = ParseBuffer(image.build())
	assert.True(t, errors.Is(err, ErrCorruptStream))

	image.streams[1].data = append([]byte{0x00}, dir...)
	_, err = ParseBuffer(image.build())
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestModuleTypes(t *testing.T) {
	types := moduleTypes([]byte(projectStream + "BaseClass=UserForm1\r\n"))
	assert.Equal(t, map[string]string{
		"ThisDocument": CLASS_EXTENSION,
		"Module1":      MODULE_EXTENSION,
	}, types)

	types = moduleTypes([]byte("Module=Module2\r\nBaseClass=UserForm1\r\nPackage={AC9F2F90}\r\n"))
	assert.Equal(t, map[string]string{
		"Module2":   MODULE_EXTENSION,
		"UserForm1": FORM_EXTENSION,
	}, types)
}
