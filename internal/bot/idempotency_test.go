package bot

import (
	"strings"
	"testing"
	"time"
)

func TestBuildClientOrderID_Deterministic(t *testing.T) {
	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	a := BuildClientOrderID(3, ts, "ENTER_LONG", "A", "KO")
	b := BuildClientOrderID(3, ts, "ENTER_LONG", "A", "KO")
	if a != b {
		t.Errorf("same inputs gave %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "sa-p3-20260302T150000-A-") {
		t.Errorf("unexpected format: %q", a)
	}
}

func TestBuildClientOrderID_TruncatesToSeconds(t *testing.T) {
	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	a := BuildClientOrderID(3, ts, "ENTER_LONG", "A", "KO")
	b := BuildClientOrderID(3, ts.Add(999*time.Millisecond), "ENTER_LONG", "A", "KO")
	if a != b {
		t.Errorf("sub-second difference changed key: %q vs %q", a, b)
	}

	// та же секунда в другой зоне
	c := BuildClientOrderID(3, ts.In(time.FixedZone("MSK", 3*3600)), "ENTER_LONG", "A", "KO")
	if a != c {
		t.Errorf("time zone changed key: %q vs %q", a, c)
	}
}

func TestBuildClientOrderID_DiffersByInput(t *testing.T) {
	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	base := BuildClientOrderID(3, ts, "ENTER_LONG", "A", "KO")

	tests := []struct {
		name string
		key  string
	}{
		{"pair", BuildClientOrderID(4, ts, "ENTER_LONG", "A", "KO")},
		{"timestamp", BuildClientOrderID(3, ts.Add(time.Second), "ENTER_LONG", "A", "KO")},
		{"action", BuildClientOrderID(3, ts, "ENTER_SHORT", "A", "KO")},
		{"leg", BuildClientOrderID(3, ts, "ENTER_LONG", "B", "KO")},
		{"symbol", BuildClientOrderID(3, ts, "ENTER_LONG", "A", "PEP")},
	}

	for _, tt := range tests {
		if tt.key == base {
			t.Errorf("changing %s did not change the key", tt.name)
		}
	}
}

func TestBuildClientOrderID_SeparatorInsideField(t *testing.T) {
	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	// одинаковая склейка через "|", одинаковый читаемый префикс
	a := BuildClientOrderID(3, ts, "ENTER_LONG|A", "A", "KO")
	b := BuildClientOrderID(3, ts, "ENTER_LONG", "A", "A|KO")
	if a == b {
		t.Errorf("distinct inputs share key %q", a)
	}
}

func TestBuildClientOrderID_NoCollisions(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	actions := []string{"ENTER_LONG", "ENTER_SHORT"}
	legs := []string{"A", "B", "A_flatten"}

	seen := make(map[string]struct{})
	count := 0
	for pair := 1; pair <= 20; pair++ {
		for sec := 0; sec < 100; sec++ {
			for _, action := range actions {
				for _, leg := range legs {
					key := BuildClientOrderID(pair, start.Add(time.Duration(sec)*time.Second), action, leg, "SYM")
					if _, dup := seen[key]; dup {
						t.Fatalf("collision on %q", key)
					}
					seen[key] = struct{}{}
					count++
				}
			}
		}
	}
	if len(seen) != count {
		t.Errorf("unique keys = %d, want %d", len(seen), count)
	}
}

func TestBuildClientOrderID_LengthBound(t *testing.T) {
	ts := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		pairID int
		leg    string
	}{
		{"short", 1, "A"},
		{"flatten leg", 12345, "A_flatten"},
		{"huge pair id", 2147483647, "A_flatten"},
		{"long leg label", 99, strings.Repeat("X", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := BuildClientOrderID(tt.pairID, ts, "ENTER_SHORT", tt.leg, "BRK.B")
			if len(key) > MaxClientOrderIDLen {
				t.Errorf("len(%q) = %d > %d", key, len(key), MaxClientOrderIDLen)
			}
		})
	}
}
