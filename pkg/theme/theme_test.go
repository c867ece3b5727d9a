package theme

import "testing"

func TestDefaultsFillUnsetRoles(t *testing.T) {
	th := &Theme{Name: "partial", Primary: 0x112233}
	th.ensureDefaults()
	if th.Roster != 0x112233 || th.Accent != 0x112233 {
		t.Fatalf("expected roster and accent to inherit primary, got %#x %#x", th.Roster, th.Accent)
	}
	if th.RosterEmpty != th.Muted || th.Help != th.Info {
		t.Fatalf("expected derived roles to inherit")
	}
}

func TestSetCurrentSwitchesAndRestores(t *testing.T) {
	t.Cleanup(func() { _ = SetCurrent("") })

	if err := SetCurrent("halloween"); err != nil {
		t.Fatalf("SetCurrent(halloween): %v", err)
	}
	if Roster() != 0xEB6123 {
		t.Fatalf("expected pumpkin roster color, got %#x", Roster())
	}
	if Success() != Default().Success {
		t.Fatalf("expected sentiment colors to keep defaults")
	}

	if err := SetCurrent("nope"); err == nil {
		t.Fatalf("expected error for unknown theme")
	}
	if err := SetCurrent(""); err != nil {
		t.Fatalf("restore default: %v", err)
	}
	if Roster() != 0x5865F2 {
		t.Fatalf("expected default roster color, got %#x", Roster())
	}
}

func TestRegisterRejectsDuplicatesAndBlankNames(t *testing.T) {
	if err := Register(&Theme{}); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if err := Register(&Theme{Name: "halloween"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if err := Register(nil); err == nil {
		t.Fatalf("expected error for nil theme")
	}
}

func TestCurrentReturnsCopy(t *testing.T) {
	c := Current()
	c.Roster = 1
	if Roster() == 1 {
		t.Fatalf("mutating Current() must not leak")
	}
}
