package theme

import (
	"fmt"
	"slices"
	"sync"
)

// Color is the int value used by discordgo.MessageEmbed.Color
type Color = int

// Theme holds the color roles used by bot embeds.
type Theme struct {
	// Human-friendly name for the theme (unique within the registry).
	Name string

	// Core roles
	Primary Color // Discord "blurple" by default
	Accent  Color
	Info    Color
	Success Color
	Warning Color
	Error   Color
	Muted   Color

	// Roster is the accent of list embeds when a guild has not picked its own color.
	Roster Color
	// RosterEmpty colors a list with no visible members.
	RosterEmpty Color
	BotInfo     Color
	Help        Color
}

// Clone returns a copy of the Theme.
func (t *Theme) Clone() *Theme {
	cp := *t
	return &cp
}

// ensureDefaults fills zero-valued fields so themes can override only a subset of roles.
func (t *Theme) ensureDefaults() {
	if t.Primary == 0 {
		t.Primary = 0x5865F2
	}
	if t.Accent == 0 {
		t.Accent = t.Primary
	}
	if t.Info == 0 {
		t.Info = 0x3B82F6
	}
	if t.Success == 0 {
		t.Success = 0x57F287
	}
	if t.Warning == 0 {
		t.Warning = 0xF59E0B
	}
	if t.Error == 0 {
		t.Error = 0xED4245
	}
	if t.Muted == 0 {
		t.Muted = 0x99AAB5
	}

	if t.Roster == 0 {
		t.Roster = t.Primary
	}
	if t.RosterEmpty == 0 {
		t.RosterEmpty = t.Muted
	}
	if t.BotInfo == 0 {
		t.BotInfo = t.Primary
	}
	if t.Help == 0 {
		t.Help = t.Info
	}
}

// defaultTheme returns the built-in theme.
func defaultTheme() *Theme {
	th := &Theme{
		Name:    "default",
		Primary: 0x5865F2, // Discord blurple
		Info:    0x3B82F6,
		Success: 0x57F287,
		Warning: 0xF59E0B,
		Error:   0xED4245,
		Muted:   0x99AAB5,
		Roster:  0x5865F2,
	}
	th.ensureDefaults()
	return th
}

var (
	mu        sync.RWMutex
	registry  = map[string]*Theme{}
	currentTh = defaultTheme()
)

// Register adds a theme to the registry. It returns an error if the name is empty or already registered.
func Register(t *Theme) error {
	if t == nil {
		return fmt.Errorf("theme: cannot register nil theme")
	}
	if t.Name == "" {
		return fmt.Errorf("theme: name is required")
	}
	cp := t.Clone()
	cp.ensureDefaults()

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[cp.Name]; exists {
		return fmt.Errorf("theme: theme %q already registered", cp.Name)
	}
	registry[cp.Name] = cp
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(t *Theme) {
	if err := Register(t); err != nil {
		panic(err)
	}
}

// Names lists registered themes, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// SetCurrent switches the active theme by name. An empty name restores the default.
func SetCurrent(name string) error {
	mu.Lock()
	defer mu.Unlock()
	if name == "" || name == "default" {
		currentTh = defaultTheme()
		return nil
	}
	th, ok := registry[name]
	if !ok {
		return fmt.Errorf("theme: theme %q not found", name)
	}
	currentTh = th.Clone()
	return nil
}

// Current returns a copy of the current theme.
func Current() *Theme {
	mu.RLock()
	defer mu.RUnlock()
	return currentTh.Clone()
}

// Default returns a copy of the built-in default theme.
func Default() *Theme {
	return defaultTheme()
}

func Primary() Color     { return Current().Primary }
func Accent() Color      { return Current().Accent }
func Info() Color        { return Current().Info }
func Success() Color     { return Current().Success }
func Warning() Color     { return Current().Warning }
func Error() Color       { return Current().Error }
func Muted() Color       { return Current().Muted }
func Roster() Color      { return Current().Roster }
func RosterEmpty() Color { return Current().RosterEmpty }
func BotInfo() Color     { return Current().BotInfo }
func Help() Color        { return Current().Help }
