package memmap

import (
	"testing"

	"ivee/ierr"
)

func kindOf(t *testing.T, err error) ierr.Kind {
	t.Helper()
	e, ok := err.(*ierr.Error)
	if !ok {
		t.Fatalf("expected *ierr.Error, got %T (%v)", err, err)
	}
	return e.Kind
}

func TestMapHostMemoryRejectsZeroSize(t *testing.T) {
	m := New()
	if _, err := m.MapHostMemory(0, 0, nil, false, ProtWrite); err == nil {
		t.Fatal("expected error for zero size")
	} else if k := kindOf(t, err); k != ierr.InvalidArg {
		t.Fatalf("got kind %v, want InvalidArg", k)
	}
}

func TestMapHostMemoryRejectsUnalignedGPA(t *testing.T) {
	m := New()
	if _, err := m.MapHostMemory(1, PageSize, nil, false, ProtWrite); err == nil {
		t.Fatal("expected error for unaligned gpa")
	} else if k := kindOf(t, err); k != ierr.InvalidArg {
		t.Fatalf("got kind %v, want InvalidArg", k)
	}
}

func TestMapHostMemoryRoundsUpAndInserts(t *testing.T) {
	m := New()
	r, err := m.MapHostMemory(0, 1, nil, false, ProtWrite)
	if err != nil {
		t.Fatalf("MapHostMemory: %v", err)
	}
	if r.Size != PageSize {
		t.Fatalf("Size = %d, want %d", r.Size, PageSize)
	}
	if r.FirstGFN != 0 || r.LastGFN != 0 {
		t.Fatalf("gfn range = [%d,%d], want [0,0]", r.FirstGFN, r.LastGFN)
	}
}

func TestMapHostMemoryRejectsOverlap(t *testing.T) {
	m := New()
	if _, err := m.MapHostMemory(0, 2*PageSize, nil, false, ProtWrite); err != nil {
		t.Fatalf("first map: %v", err)
	}
	if _, err := m.MapHostMemory(PageSize, PageSize, nil, false, ProtWrite); err == nil {
		t.Fatal("expected CONFLICT for overlapping range")
	} else if k := kindOf(t, err); k != ierr.Conflict {
		t.Fatalf("got kind %v, want Conflict", k)
	}
}

func TestIterateIsSortedByFirstGFN(t *testing.T) {
	m := New()
	if _, err := m.MapHostMemory(4*PageSize, PageSize, nil, false, ProtWrite); err != nil {
		t.Fatal(err)
	}
	if _, err := m.MapHostMemory(0, PageSize, nil, false, ProtWrite); err != nil {
		t.Fatal(err)
	}
	if _, err := m.MapHostMemory(2*PageSize, PageSize, nil, false, ProtWrite); err != nil {
		t.Fatal(err)
	}

	regions := m.Iterate()
	if len(regions) != 3 {
		t.Fatalf("len(regions) = %d, want 3", len(regions))
	}
	for i := 1; i < len(regions); i++ {
		if regions[i-1].FirstGFN >= regions[i].FirstGFN {
			t.Fatalf("regions not sorted ascending: %+v", regions)
		}
	}
}

func TestReadWriteAtRoundTrip(t *testing.T) {
	m := New()
	if _, err := m.MapHostMemory(0, PageSize, nil, false, ProtWrite); err != nil {
		t.Fatal(err)
	}

	want := []byte{1, 2, 3, 4, 5}
	if err := m.WriteAt(10, want); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got := make([]byte, len(want))
	if err := m.ReadAt(10, got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestWriteAtRejectsReadOnlyRegion(t *testing.T) {
	m := New()
	r, err := m.MapHostMemory(0, PageSize, nil, false, Prot(0))
	if err != nil {
		t.Fatal(err)
	}
	_ = r
	if err := m.WriteAt(0, []byte{1}); err == nil {
		t.Fatal("expected error writing to a region without ProtWrite")
	}
}

func TestResetClearsRegionsAndFinalized(t *testing.T) {
	m := New()
	if _, err := m.MapHostMemory(0, PageSize, nil, false, ProtWrite); err != nil {
		t.Fatal(err)
	}
	m.Finalize()
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.Finalized() {
		t.Fatal("Finalized() true after Reset")
	}
	if len(m.Iterate()) != 0 {
		t.Fatal("regions remain after Reset")
	}
}
