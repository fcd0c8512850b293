// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package modules // import "go.opentelemetry.io/orbit-tracing/modules"

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/orbit-tracing/apiabi"
)

// ErrNoExecutableSegment is returned for object files without code.
var ErrNoExecutableSegment = errors.New("no executable segment")

// Symbol is an exported symbol at a virtual address of its object file.
type Symbol struct {
	Name    string
	Address uint64
}

// ObjectFile is an ELF or PE file.
type ObjectFile struct {
	ABI                     apiabi.ABI
	BuildID                 string
	Soname                  string
	LoadBias                uint64
	ExecutableSegmentOffset uint64
	// ImageSize is the span of all loadable segments.
	ImageSize uint64

	elf *elf.File
	pe  *pe.File
}

// OpenObjectFile parses the headers of an ELF or PE file.
func OpenObjectFile(r io.ReaderAt) (*ObjectFile, error) {
	abi, err := apiabi.DetectABI(r)
	if err != nil {
		return nil, err
	}
	if abi == apiabi.ABINative {
		f, err := elf.NewFile(r)
		if err != nil {
			return nil, err
		}
		o := &ObjectFile{ABI: abi, elf: f}
		if err = o.initELF(); err != nil {
			return nil, err
		}
		return o, nil
	}
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	o := &ObjectFile{ABI: abi, pe: f}
	if err = o.initPE(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *ObjectFile) initELF() error {
	found, seenLoad := false, false
	var first, last uint64
	for _, p := range o.elf.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if !seenLoad {
			first = p.Vaddr
			seenLoad = true
		}
		last = max(last, p.Vaddr+p.Memsz)
		if !found && p.Flags&elf.PF_X != 0 {
			o.LoadBias = p.Vaddr - p.Off
			o.ExecutableSegmentOffset = p.Off
			found = true
		}
	}
	if !found {
		return ErrNoExecutableSegment
	}
	o.ImageSize = last - first

	if s := o.elf.Section(".note.gnu.build-id"); s != nil {
		if data, err := s.Data(); err == nil {
			if id, ok := buildIDFromNotes(data, o.elf.ByteOrder); ok {
				o.BuildID = id
			}
		}
	}
	if sonames, err := o.elf.DynString(elf.DT_SONAME); err == nil && len(sonames) > 0 {
		o.Soname = sonames[0]
	}
	return nil
}

// buildIDFromNotes walks the notes of a note section looking for the GNU
// build ID.
func buildIDFromNotes(notes []byte, bo binary.ByteOrder) (string, bool) {
	const ntGNUBuildID = 3
	align4 := func(n uint32) uint32 { return (n + 3) &^ 3 }
	for len(notes) >= 12 {
		nameSize := bo.Uint32(notes[0:4])
		descSize := bo.Uint32(notes[4:8])
		noteType := bo.Uint32(notes[8:12])
		notes = notes[12:]
		nameEnd := uint64(align4(nameSize))
		descEnd := nameEnd + uint64(align4(descSize))
		if descEnd > uint64(len(notes)) {
			return "", false
		}
		name := notes[:nameSize]
		if noteType == ntGNUBuildID && bytes.Equal(name, []byte("GNU\x00")) {
			return hex.EncodeToString(notes[nameEnd : nameEnd+uint64(descSize)]), true
		}
		notes = notes[descEnd:]
	}
	return "", false
}

func (o *ObjectFile) initPE() error {
	oh, ok := o.pe.OptionalHeader.(*pe.OptionalHeader64)
	if !ok {
		return errors.New("only 64-bit PE files are supported")
	}
	if oh.BaseOfCode == 0 {
		return ErrNoExecutableSegment
	}
	o.LoadBias = oh.ImageBase
	o.ExecutableSegmentOffset = uint64(oh.BaseOfCode)
	o.ImageSize = uint64(oh.SizeOfImage)
	return nil
}

// ExportedSymbols returns the dynamic symbols (ELF) or exports (PE) whose
// name starts with prefix.
func (o *ObjectFile) ExportedSymbols(prefix string) ([]Symbol, error) {
	if o.elf != nil {
		syms, err := o.elf.DynamicSymbols()
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				return nil, nil
			}
			return nil, err
		}
		var out []Symbol
		for _, s := range syms {
			if s.Value == 0 || elf.ST_TYPE(s.Info) != elf.STT_FUNC ||
				!strings.HasPrefix(s.Name, prefix) {
				continue
			}
			out = append(out, Symbol{Name: s.Name, Address: s.Value})
		}
		return out, nil
	}
	return o.peExports(prefix)
}

// peExports parses the export directory. Addresses are RVAs plus ImageBase,
// which is the virtual address space of the file.
func (o *ObjectFile) peExports(prefix string) ([]Symbol, error) {
	oh := o.pe.OptionalHeader.(*pe.OptionalHeader64)
	if oh.NumberOfRvaAndSizes <= pe.IMAGE_DIRECTORY_ENTRY_EXPORT {
		return nil, nil
	}
	dir := oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT]
	if dir.VirtualAddress == 0 || dir.Size < 40 {
		return nil, nil
	}
	read := func(rva, size uint32) ([]byte, error) {
		for _, s := range o.pe.Sections {
			if rva < s.VirtualAddress || rva+size > s.VirtualAddress+max(s.VirtualSize, s.Size) {
				continue
			}
			buf := make([]byte, size)
			if _, err := s.ReadAt(buf, int64(rva-s.VirtualAddress)); err != nil {
				return nil, err
			}
			return buf, nil
		}
		return nil, fmt.Errorf("rva %#x not in any section", rva)
	}
	readString := func(rva uint32) (string, error) {
		buf, err := read(rva, 256)
		if err != nil {
			// Names close to the end of a section.
			buf, err = read(rva, 64)
			if err != nil {
				return "", err
			}
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			buf = buf[:i]
		}
		return string(buf), nil
	}

	hdr, err := read(dir.VirtualAddress, 40)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	numFunctions := le.Uint32(hdr[20:24])
	numNames := le.Uint32(hdr[24:28])
	functionsRVA := le.Uint32(hdr[28:32])
	namesRVA := le.Uint32(hdr[32:36])
	ordinalsRVA := le.Uint32(hdr[36:40])
	if numNames == 0 {
		return nil, nil
	}

	functions, err := read(functionsRVA, 4*numFunctions)
	if err != nil {
		return nil, err
	}
	names, err := read(namesRVA, 4*numNames)
	if err != nil {
		return nil, err
	}
	ordinals, err := read(ordinalsRVA, 2*numNames)
	if err != nil {
		return nil, err
	}

	var out []Symbol
	for i := range numNames {
		name, err := readString(le.Uint32(names[4*i:]))
		if err != nil || !strings.HasPrefix(name, prefix) {
			continue
		}
		ordinal := uint32(le.Uint16(ordinals[2*i:]))
		if ordinal >= numFunctions {
			continue
		}
		rva := le.Uint32(functions[4*ordinal:])
		// Forwarded exports point into the export directory.
		if rva >= dir.VirtualAddress && rva < dir.VirtualAddress+dir.Size {
			continue
		}
		out = append(out, Symbol{Name: name, Address: oh.ImageBase + uint64(rva)})
	}
	return out, nil
}

// Close releases the parsed file.
func (o *ObjectFile) Close() error {
	if o.elf != nil {
		return o.elf.Close()
	}
	return o.pe.Close()
}
