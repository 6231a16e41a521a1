package capability

import (
	"errors"
	"testing"
	"time"
)

func TestNewValidityPeriod(t *testing.T) {
	cases := []struct {
		name    string
		from    *uint64
		until   *uint64
		wantErr bool
	}{
		{name: "unbounded"},
		{name: "only from", from: Ptr[uint64](10)},
		{name: "only until", until: Ptr[uint64](10)},
		{name: "equal bounds", from: Ptr[uint64](10), until: Ptr[uint64](10)},
		{name: "ordered bounds", from: Ptr[uint64](10), until: Ptr[uint64](20)},
		{name: "inverted bounds", from: Ptr[uint64](21), until: Ptr[uint64](20), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New("Reader", "target-1", nil, tc.from, tc.until)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidValidityPeriod) {
					t.Fatalf("expected ErrInvalidValidityPeriod, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if c.ID() == "" {
				t.Fatal("expected generated id")
			}
		})
	}
}

func TestNewRequiresRoleAndTarget(t *testing.T) {
	if _, err := New("", "target", nil, nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty role, got %v", err)
	}
	if _, err := New("Reader", "  ", nil, nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty target, got %v", err)
	}
}

func TestIsValidForTimestampInclusiveBounds(t *testing.T) {
	c, err := New("Reader", "target", nil, Ptr[uint64](1000), Ptr[uint64](2000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := map[uint64]bool{
		0:    false,
		999:  false,
		1000: true,
		1500: true,
		2000: true,
		2001: false,
	}
	for ts, want := range cases {
		if got := c.IsValidForTimestamp(ts); got != want {
			t.Fatalf("IsValidForTimestamp(%d)=%v, want %v", ts, got, want)
		}
	}
}

func TestWideningWindowNeverRejectsMore(t *testing.T) {
	narrow, _ := New("Reader", "target", nil, Ptr[uint64](100), Ptr[uint64](200))
	wider, _ := New("Reader", "target", nil, Ptr[uint64](50), Ptr[uint64](300))
	for ts := uint64(0); ts <= 400; ts++ {
		if narrow.IsValidForTimestamp(ts) && !wider.IsValidForTimestamp(ts) {
			t.Fatalf("wider window rejected %d accepted by narrower one", ts)
		}
	}
}

func TestIsCurrentlyValidUsesClock(t *testing.T) {
	c, _ := New("Reader", "target", nil, Ptr[uint64](1000), nil)
	if c.IsCurrentlyValid(FixedClock(999)) {
		t.Fatal("expected capability to be invalid before valid_from")
	}
	if !c.IsCurrentlyValid(FixedClock(1000)) {
		t.Fatal("expected capability to be valid at valid_from")
	}
	now := time.UnixMilli(5000)
	if !c.IsCurrentlyValid(ClockFunc(func() time.Time { return now })) {
		t.Fatal("expected capability to be valid with ClockFunc")
	}
	if !c.IsCurrentlyValid(SystemClock{}) {
		t.Fatal("expected capability to be valid at wall-clock time")
	}
}

func TestAccessorsCopyOptionalInputs(t *testing.T) {
	addr := Address("0xabc")
	from := uint64(10)
	c, err := New("Writer", "target", &addr, &from, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addr = "0xdef"
	from = 99

	got, ok := c.IssuedTo()
	if !ok || got != "0xabc" {
		t.Fatalf("unexpected issued_to: %q ok=%v", got, ok)
	}
	vf, ok := c.ValidFrom()
	if !ok || vf != 10 {
		t.Fatalf("unexpected valid_from: %d ok=%v", vf, ok)
	}
	if _, ok := c.ValidUntil(); ok {
		t.Fatal("expected no valid_until")
	}
	if !c.HasTimeConstraint() {
		t.Fatal("expected time constraint")
	}
	if !c.HasRole("Writer") || c.HasRole("Reader") {
		t.Fatal("HasRole mismatch")
	}
	if c.TargetKey() != "target" || c.Role() != "Writer" {
		t.Fatalf("unexpected fields: %s", c)
	}
}

func TestRestoreKeepsID(t *testing.T) {
	c, err := Restore("cap-1", "Reader", "target", nil, nil, nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if c.ID() != "cap-1" {
		t.Fatalf("unexpected id %s", c.ID())
	}
	if _, err := Restore("", "Reader", "target", nil, nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := Restore("cap-2", "Reader", "target", nil, Ptr[uint64](2), Ptr[uint64](1)); !errors.Is(err, ErrInvalidValidityPeriod) {
		t.Fatalf("expected ErrInvalidValidityPeriod, got %v", err)
	}
}

func TestDestroy(t *testing.T) {
	c, _ := New("Reader", "target", nil, Ptr[uint64](1), Ptr[uint64](2))
	if c.Destroyed() {
		t.Fatal("new capability must not be destroyed")
	}
	// Destruction does not depend on validity.
	if c.IsCurrentlyValid(FixedClock(100)) {
		t.Fatal("expected expired capability")
	}
	c.Destroy()
	if !c.Destroyed() {
		t.Fatal("expected destroyed capability")
	}
}
