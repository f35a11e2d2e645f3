// Package loader implements spec §4.C: parsing an ELF64 object or a raw
// flat binary and populating a memmap.Map with the resulting regions.
//
// The ELF validation (class/machine/type checks against the file
// header) is adapted from Biscuit's kernel/chentry.go, which already
// uses debug/elf to validate and patch an ELF64 x86_64 executable's
// entry point; this package generalizes that single-purpose check into
// the full PT_LOAD walk spec.md §4.C requires.
package loader

import (
	"debug/elf"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"ivee/ierr"
	"ivee/memmap"
)

// Format selects which loader load_executable dispatches to.
type Format int

const (
	// FormatBin loads the file as an opaque flat binary.
	FormatBin Format = iota
	// FormatELF64 loads the file as a 64-bit x86_64 ELF object.
	FormatELF64
	// FormatAny tries ELF64 first and falls back to flat binary.
	FormatAny
)

// FlatBinaryAddr is the fixed guest-virtual (and, since mapping is
// identity, guest-physical) address a raw flat binary is loaded at.
const FlatBinaryAddr = 0x40_0000

// / Load parses path per format and populates m with the resulting
// / regions, returning the guest entry address. On any failure the
// / regions added during this call (and only those — m is expected to be
// / empty on entry) are discarded and m is left empty.
func Load(m *memmap.Map, path string, format Format) (uint64, error) {
	const op = "load_executable"

	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return 0, ierr.New(op, ierr.InvalidArg, err)
	}

	switch format {
	case FormatBin:
		return loadFlat(m, path)
	case FormatELF64:
		return loadELF64(m, path)
	case FormatAny:
		entry, err := loadELF64(m, path)
		if err == nil {
			return entry, nil
		}
		if resetErr := m.Reset(); resetErr != nil {
			return 0, ierr.New(op, ierr.IOError, resetErr)
		}
		return loadFlat(m, path)
	default:
		return 0, ierr.New(op, ierr.InvalidArg, nil)
	}
}

func loadFlat(m *memmap.Map, path string) (uint64, error) {
	const op = "load_flat_binary"

	f, err := os.Open(path)
	if err != nil {
		return 0, ierr.New(op, ierr.IOError, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, ierr.New(op, ierr.IOError, err)
	}
	size := st.Size()
	if size == 0 {
		return 0, ierr.New(op, ierr.InvalidArg, nil)
	}

	_, err = m.MapHostMemory(FlatBinaryAddr, uint64(size), f, true, memmap.ProtExec)
	if err != nil {
		_ = m.Reset()
		return 0, wrapMapErr(op, err)
	}

	return FlatBinaryAddr, nil
}

func loadELF64(m *memmap.Map, path string) (uint64, error) {
	const op = "load_elf64"

	f, err := os.Open(path)
	if err != nil {
		return 0, ierr.New(op, ierr.IOError, err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return 0, ierr.New(op, ierr.Unsupported, err)
	}
	defer ef.Close()

	if ef.Class != elf.ELFCLASS64 {
		return 0, ierr.New(op, ierr.Unsupported, nil)
	}
	if ef.Machine != elf.EM_X86_64 {
		return 0, ierr.New(op, ierr.Unsupported, nil)
	}
	if ef.Type != elf.ET_EXEC && ef.Type != elf.ET_DYN {
		return 0, ierr.New(op, ierr.Unsupported, nil)
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Memsz == 0 {
			continue
		}

		prot := progFlagsToProt(prog.Flags)
		region, err := m.MapHostMemory(prog.Vaddr, prog.Memsz, nil, false, prot)
		if err != nil {
			_ = m.Reset()
			return 0, wrapMapErr(op, err)
		}

		if prog.Filesz > 0 {
			dst := region.Bytes()[:prog.Filesz]
			if _, err := f.ReadAt(dst, int64(prog.Off)); err != nil && err != io.EOF {
				_ = m.Reset()
				return 0, ierr.New(op, ierr.IOError, err)
			}
		}
		// Bytes beyond Filesz up to Memsz stay zero (BSS semantics):
		// the region came from a fresh anonymous mmap.
	}

	return ef.Entry, nil
}

// progFlagsToProt maps an ELF program header's R/W/X flags onto the
// memmap permission set. A segment with none of R/W/X set yields
// Prot(0), which the page-table builder encodes as PRESENT|NX — an
// implicit read-only, non-executable mapping. This matches the
// original source's behavior and is preserved rather than "fixed".
func progFlagsToProt(flags elf.ProgFlag) memmap.Prot {
	var p memmap.Prot
	if flags&elf.PF_W != 0 {
		p |= memmap.ProtWrite
	}
	if flags&elf.PF_X != 0 {
		p |= memmap.ProtExec
	}
	return p
}

func wrapMapErr(op string, err error) error {
	if e, ok := err.(*ierr.Error); ok {
		return ierr.New(op, e.Kind, e.Err)
	}
	return ierr.New(op, ierr.IOError, err)
}
