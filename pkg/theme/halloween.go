package theme

// Seasonal palette: pumpkin rosters on a purple frame. Sentiment colors
// (success, warning, error) stay at their defaults.
func init() {
	MustRegister(&Theme{
		Name:        "halloween",
		Primary:     0x7E3FBF, // Purple
		Roster:      0xEB6123, // Pumpkin
		RosterEmpty: 0x4B3B5C,
		Help:        0xEB6123,
	})
}
