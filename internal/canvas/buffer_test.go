package canvas

import (
	"errors"
	"testing"
)

func TestAllocRows(t *testing.T) {
	rows, err := AllocRows(640, 480, 4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if len(rows) != 480 {
		t.Fatalf("rows=%d", len(rows))
	}
	for i, row := range rows {
		if len(row) != 640*4 {
			t.Fatalf("row %d stride=%d", i, len(row))
		}
	}

	// Rows share one backing array.
	rows[0][len(rows[0])-1] = 0xFF
	rows[1][0] = 0xAA
	if rows[0][len(rows[0])-1] != 0xFF || rows[1][0] != 0xAA {
		t.Fatalf("row writes lost")
	}
}

func TestAllocRowsRejectsInvalidDimensions(t *testing.T) {
	for _, dims := range [][3]int{{0, 1, 4}, {1, 0, 4}, {1, 1, 0}, {-1, 10, 4}} {
		if _, err := AllocRows(dims[0], dims[1], dims[2]); !errors.Is(err, ErrInvalidDimensions) {
			t.Fatalf("dims %v: expected ErrInvalidDimensions, got %v", dims, err)
		}
	}
}
