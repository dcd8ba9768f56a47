package msodump

import (
	"archive/zip"
	"bytes"
	"io/ioutil"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	MODULE_EXTENSION = "bas"
	CLASS_EXTENSION  = "cls"
	FORM_EXTENSION   = "frm"
)

var (
	BINFILE_NAME = regexp.MustCompile("(?i).bin$")
	re_keyval    = regexp.MustCompile("^([^=]+)=(.*)$")
)

type VBAModule struct {
	Code       string
	ModuleName string
	StreamName string
	Type       string
}

// recordReader reads dir stream records. The first failure sticks
// and later reads return zero values.
type recordReader struct {
	cursor *Cursor
	err    error
}

func (self *recordReader) u16() uint16 {
	if self.err != nil {
		return 0
	}
	result, err := self.cursor.ReadU16()
	self.err = err
	return result
}

func (self *recordReader) peekU16() uint16 {
	if self.err != nil {
		return 0
	}
	result, _ := self.cursor.PeekU16()
	return result
}

func (self *recordReader) u32() uint32 {
	if self.err != nil {
		return 0
	}
	result, err := self.cursor.ReadU32()
	self.err = err
	return result
}

func (self *recordReader) bytes(n uint32) []byte {
	if self.err != nil {
		return nil
	}
	result, err := self.cursor.ReadBytes(int(n))
	self.err = err
	return result
}

func (self *recordReader) skip(n uint32) {
	if self.err != nil {
		return
	}
	self.err = self.cursor.Skip(int(n))
}

func (self *recordReader) expect(name string, expected uint32, value uint32) {
	DebugPrintf("%s: %v", name, expected)
	if expected != value {
		DebugPrintf("invalid value for %v expected %04x got %04x",
			name, expected, value)
	}
}

// projectInfo holds the PROJECTINFORMATION fields module decoding
// needs.
type projectInfo struct {
	syskind  uint32
	codepage uint16
	name     string
}

// MS-OVBA 2.3.4.2.1
func (self *recordReader) readProjectInformation() (*projectInfo, error) {
	info := &projectInfo{}

	self.expect("PROJECTSYSKIND_Id", 0x0001, uint32(self.u16()))
	self.expect("PROJECTSYSKIND_Size", 0x0004, self.u32())
	info.syskind = self.u32()
	switch info.syskind {
	case 0x00:
		DebugPrintf("16-bit Windows")
	case 0x01:
		DebugPrintf("32-bit Windows")
	case 0x02:
		DebugPrintf("Macintosh")
	case 0x03:
		DebugPrintf("64-bit Windows")
	default:
		if self.err == nil {
			return nil, errors.Wrapf(ErrCorruptStream,
				"invalid PROJECTSYSKIND_SysKind %04x", info.syskind)
		}
	}

	// Optional PROJECTCOMPATVERSION
	if self.peekU16() == 0x004A {
		self.u16()
		self.expect("PROJECTCOMPATVERSION_Size", 0x0004, self.u32())
		self.skip(4)
	}

	self.expect("PROJECTLCID_Id", 0x0002, uint32(self.u16()))
	self.expect("PROJECTLCID_Size", 0x0004, self.u32())
	self.expect("PROJECTLCID_Lcid", 0x0409, self.u32())

	self.expect("PROJECTLCIDINVOKE_Id", 0x0014, uint32(self.u16()))
	self.expect("PROJECTLCIDINVOKE_Size", 0x0004, self.u32())
	self.expect("PROJECTLCIDINVOKE_LcidInvoke", 0x0409, self.u32())

	self.expect("PROJECTCODEPAGE_Id", 0x0003, uint32(self.u16()))
	self.expect("PROJECTCODEPAGE_Size", 0x0002, self.u32())
	info.codepage = self.u16()

	self.expect("PROJECTNAME_Id", 0x0004, uint32(self.u16()))
	sizeof_projectname := self.u32()
	if self.err == nil && (sizeof_projectname < 1 || sizeof_projectname > 128) {
		return nil, errors.Wrapf(ErrCorruptStream,
			"PROJECTNAME_SizeOfProjectName value not in range: %v",
			sizeof_projectname)
	}
	info.name = decodeCodepage(self.bytes(sizeof_projectname), info.codepage)

	self.expect("PROJECTDOCSTRING_Id", 0x0005, uint32(self.u16()))
	sizeof_docstring := self.u32()
	if sizeof_docstring > 2000 {
		return nil, errors.Wrapf(ErrCorruptStream,
			"PROJECTDOCSTRING_SizeOfDocString value not in range: %v",
			sizeof_docstring)
	}
	self.skip(sizeof_docstring)
	self.expect("PROJECTDOCSTRING_Reserved", 0x0040, uint32(self.u16()))
	sizeof_docstring_unicode := self.u32()
	if sizeof_docstring_unicode%2 != 0 {
		return nil, errors.Wrap(ErrCorruptStream,
			"PROJECTDOCSTRING_SizeOfDocStringUnicode is not even")
	}
	self.skip(sizeof_docstring_unicode)

	self.expect("PROJECTHELPFILEPATH_Id", 0x0006, uint32(self.u16()))
	sizeof_helpfile1 := self.u32()
	if sizeof_helpfile1 > 260 {
		return nil, errors.Wrapf(ErrCorruptStream,
			"PROJECTHELPFILEPATH_SizeOfHelpFile1 value not in range: %v",
			sizeof_helpfile1)
	}
	helpfile1 := self.bytes(sizeof_helpfile1)
	self.expect("PROJECTHELPFILEPATH_Reserved", 0x003D, uint32(self.u16()))
	sizeof_helpfile2 := self.u32()
	if sizeof_helpfile2 != sizeof_helpfile1 {
		return nil, errors.Wrap(ErrCorruptStream,
			"PROJECTHELPFILEPATH_SizeOfHelpFile1 does not equal PROJECTHELPFILEPATH_SizeOfHelpFile2")
	}
	helpfile2 := self.bytes(sizeof_helpfile2)
	if !bytes.Equal(helpfile1, helpfile2) {
		return nil, errors.Wrap(ErrCorruptStream,
			"PROJECTHELPFILEPATH_HelpFile1 does not equal PROJECTHELPFILEPATH_HelpFile2")
	}

	self.expect("PROJECTHELPCONTEXT_Id", 0x0007, uint32(self.u16()))
	self.expect("PROJECTHELPCONTEXT_Size", 0x0004, self.u32())
	self.skip(4)

	self.expect("PROJECTLIBFLAGS_Id", 0x0008, uint32(self.u16()))
	self.expect("PROJECTLIBFLAGS_Size", 0x0004, self.u32())
	self.expect("PROJECTLIBFLAGS_ProjectLibFlags", 0x0000, self.u32())

	self.expect("PROJECTVERSION_Id", 0x0009, uint32(self.u16()))
	self.expect("PROJECTVERSION_Reserved", 0x0004, self.u32())
	// VersionMajor and VersionMinor
	self.skip(6)

	// Optional PROJECTCONSTANTS
	if self.peekU16() == 0x000C {
		self.u16()
		sizeof_constants := self.u32()
		if sizeof_constants > 1015 {
			return nil, errors.Wrapf(ErrCorruptStream,
				"PROJECTCONSTANTS_SizeOfConstants value not in range: %v",
				sizeof_constants)
		}
		self.skip(sizeof_constants)
		self.expect("PROJECTCONSTANTS_Reserved", 0x003C, uint32(self.u16()))
		sizeof_constants_unicode := self.u32()
		if sizeof_constants_unicode%2 != 0 {
			return nil, errors.Wrap(ErrCorruptStream,
				"PROJECTCONSTANTS_SizeOfConstantsUnicode is not even")
		}
		self.skip(sizeof_constants_unicode)
	}

	return info, self.err
}

// readReferences skips the REFERENCE records and consumes the
// PROJECTMODULES id that ends them. MS-OVBA 2.3.4.2.2
func (self *recordReader) readReferences() error {
	check := self.u16()
	for self.err == nil {
		DebugPrintf("reference type = %04x", check)
		switch check {
		case 0x000F:
			return nil

		case 0x0016:
			// REFERENCENAME
			self.skip(self.u32())
			reserved := self.u16()

			// The unicode name is optional in some Macintosh projects;
			// anything but 0x003E starts the next record.
			if reserved == 0x003E {
				self.skip(self.u32())
				check = self.u16()
			} else {
				check = reserved
			}
			continue

		case 0x0033:
			// REFERENCEORIGINAL, followed by REFERENCECONTROL
			self.skip(self.u32())

		case 0x002F:
			// REFERENCECONTROL
			self.skip(4)
			self.skip(self.u32())
			self.expect("REFERENCECONTROL_Reserved1", 0x0000, self.u32())
			self.expect("REFERENCECONTROL_Reserved2", 0x0000, uint32(self.u16()))

			reserved3 := self.u16()
			if reserved3 == 0x0016 {
				self.skip(self.u32())
				reserved := self.u16()
				if reserved == 0x003E {
					self.skip(self.u32())
					reserved3 = self.u16()
				} else {
					reserved3 = reserved
				}
			}
			self.expect("REFERENCECONTROL_Reserved3", 0x0030, uint32(reserved3))

			// SizeExtended, LibidExtended, Reserved4, Reserved5,
			// OriginalTypeLib and Cookie
			self.skip(4)
			self.skip(self.u32())
			self.skip(6 + 16 + 4)

		case 0x000D:
			// REFERENCEREGISTERED
			self.skip(4)
			self.skip(self.u32())
			self.expect("REFERENCEREGISTERED_Reserved1", 0x0000, self.u32())
			self.expect("REFERENCEREGISTERED_Reserved2", 0x0000, uint32(self.u16()))

		case 0x000E:
			// REFERENCEPROJECT
			self.skip(4)
			self.skip(self.u32())
			self.skip(self.u32())
			self.skip(6)

		default:
			return errors.Wrapf(ErrCorruptStream,
				"invalid or unknown check Id %04x", check)
		}
		check = self.u16()
	}
	return self.err
}

type moduleRecord struct {
	name                []byte
	name_unicode        []byte
	stream_name         []byte
	stream_name_unicode []byte
	text_offset         uint32
}

// MS-OVBA 2.3.4.2.3.2
func (self *recordReader) readModule() *moduleRecord {
	module := &moduleRecord{}

	self.expect("MODULENAME_Id", 0x0019, uint32(self.u16()))
	module.name = self.bytes(self.u32())

	section_id := self.u16()
	if section_id == 0x0047 {
		module.name_unicode = self.bytes(self.u32())
		section_id = self.u16()
	}

	if section_id == 0x001A {
		module.stream_name = self.bytes(self.u32())
		self.expect("MODULESTREAMNAME_Reserved", 0x0032, uint32(self.u16()))
		module.stream_name_unicode = self.bytes(self.u32())
		section_id = self.u16()
	}

	if section_id == 0x001C {
		self.skip(self.u32())
		self.expect("MODULEDOCSTRING_Reserved", 0x0048, uint32(self.u16()))
		self.skip(self.u32())
		section_id = self.u16()
	}

	if section_id == 0x0031 {
		self.expect("MODULEOFFSET_Size", 0x0004, self.u32())
		module.text_offset = self.u32()
		section_id = self.u16()
	}

	if section_id == 0x001E {
		self.expect("MODULEHELPCONTEXT_Size", 0x0004, self.u32())
		self.skip(4)
		section_id = self.u16()
	}

	if section_id == 0x002C {
		self.expect("MODULECOOKIE_Size", 0x0002, self.u32())
		self.skip(2)
		section_id = self.u16()
	}

	if section_id == 0x0021 || section_id == 0x0022 {
		self.skip(4)
		section_id = self.u16()
	}

	if section_id == 0x0025 {
		self.expect("MODULEREADONLY_Reserved", 0x0000, self.u32())
		section_id = self.u16()
	}

	if section_id == 0x0028 {
		self.expect("MODULEPRIVATE_Reserved", 0x0000, self.u32())
		section_id = self.u16()
	}

	if section_id == 0x002B {
		self.expect("MODULE_Reserved", 0x0000, self.u32())
		section_id = 0
	}

	if section_id != 0 {
		DebugPrintf("unknown or invalid module section id %04x", section_id)
	}

	return module
}

// moduleTypes maps module names to file extensions using the PROJECT
// stream.
func moduleTypes(project_data []byte) map[string]string {
	code_modules := make(map[string]string)
	for _, line := range strings.Split(string(project_data), "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 1 {
			break
		}

		if strings.HasPrefix(line, "[") {
			continue
		}

		m := re_keyval.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		switch m[1] {
		case "Document":
			key := strings.Split(m[2], "/")[0]
			code_modules[key] = CLASS_EXTENSION
		case "Module":
			code_modules[m[2]] = MODULE_EXTENSION
		case "BaseClass":
			code_modules[m[2]] = FORM_EXTENSION
		}
	}
	return code_modules
}

// ExtractMacros decompresses the source of every module of the VBA
// project held in the container.
func ExtractMacros(container *Container) ([]*VBAModule, error) {
	project_data, err := container.ReadStream("PROJECT")
	if err != nil {
		return nil, errors.Wrap(err, "missing PROJECT stream")
	}
	code_modules := moduleTypes(project_data)

	compressed_dir, err := container.ReadStream("dir")
	if err != nil {
		return nil, errors.Wrap(err, "missing dir stream")
	}

	dir_stream, err := Decompress(compressed_dir, 0)
	if err != nil {
		return nil, errors.Wrap(err, "dir stream")
	}

	reader := &recordReader{cursor: NewCursor(dir_stream)}
	info, err := reader.readProjectInformation()
	if err != nil {
		return nil, errors.Wrap(err, "dir stream")
	}
	DebugPrintf("Project %v CodePage = %d", info.name, info.codepage)

	err = reader.readReferences()
	if err != nil {
		return nil, errors.Wrap(err, "dir stream")
	}

	// The PROJECTMODULES id was consumed by readReferences.
	reader.expect("PROJECTMODULES_Size", 0x0002, reader.u32())
	count := reader.u16()
	reader.expect("PROJECTMODULES_ProjectCookieRecord_Id", 0x0013, uint32(reader.u16()))
	reader.expect("PROJECTMODULES_ProjectCookieRecord_Size", 0x0002, reader.u32())
	reader.skip(2)

	DebugPrintf("parsing %v modules", count)

	var result []*VBAModule
	for i := 0; i < int(count) && reader.err == nil; i++ {
		module := reader.readModule()
		if reader.err != nil {
			break
		}

		module_name := decodeCodepage(module.name, info.codepage)
		stream_name := decodeCodepage(module.stream_name, info.codepage)

		DebugPrintf("ModuleName = %v", module_name)
		DebugPrintf("StreamName = %v", stream_name)
		DebugPrintf("TextOffset = %v", module.text_offset)

		code_stream := container.FindEntry(stream_name)
		// This doc has no code stream
		if code_stream == nil {
			continue
		}

		code_data, err := container.ReadEntry(code_stream)
		if err != nil {
			return nil, err
		}

		if int(module.text_offset) >= len(code_data) {
			DebugPrintf("text offset %v beyond module stream of %v bytes",
				module.text_offset, len(code_data))
			continue
		}

		code, err := Decompress(code_data, int(module.text_offset))
		if err != nil {
			return nil, errors.Wrapf(err, "module %v", module_name)
		}

		vba_module := &VBAModule{
			Code:       string(code),
			ModuleName: module_name,
			StreamName: stream_name,
			Type:       code_modules[string(module.name)],
		}

		if len(module.name_unicode) > 0 {
			vba_module.ModuleName = decodeUTF16(module.name_unicode)
		}
		if len(module.stream_name_unicode) > 0 {
			vba_module.StreamName = decodeUTF16(module.stream_name_unicode)
		}

		result = append(result, vba_module)
	}

	if reader.err != nil {
		return nil, errors.Wrap(ErrCorruptStream, reader.err.Error())
	}

	return result, nil
}

func ParseFile(filename string) ([]*VBAModule, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	if len(data) >= len(OLE_SIGNATURE) &&
		string(data[:len(OLE_SIGNATURE)]) == OLE_SIGNATURE {
		return ParseBuffer(data)
	}

	// Maybe the file is a zip file.
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	results := []*VBAModule{}
	for _, f := range r.File {
		if BINFILE_NAME.MatchString(f.Name) {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			data, err := ioutil.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, err
			}
			modules, err := ParseBuffer(data)
			if err == nil {
				results = append(results, modules...)
			}
		}
	}

	return results, nil
}

func ParseBuffer(data []byte) ([]*VBAModule, error) {
	container, err := Open(data)
	if err != nil {
		return nil, err
	}

	return ExtractMacros(container)
}
