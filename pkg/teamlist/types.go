package teamlist

import (
	"slices"
	"time"
)

// Rank priority bounds. Lower numbers rank higher.
const (
	MinPriority = 1
	MaxPriority = 100

	// NoRankPriority sorts after every real rank.
	NoRankPriority = 999
	NoRankLabel    = "No Rank"
)

// ListKey identifies a list entity. A channel holds at most one list per team role.
type ListKey struct {
	ChannelID string
	RoleID    string
}

// String renders the key as "channel:role"; it doubles as the render group key.
func (k ListKey) String() string { return k.ChannelID + ":" + k.RoleID }

// ListEntity is a tracked roster for one team role in one channel.
type ListEntity struct {
	GuildID    string
	ChannelID  string
	TeamRoleID string
	// HiddenRoles is kept sorted and free of duplicates.
	HiddenRoles []string
	// MessageID is empty until the first successful render.
	MessageID      string
	CreatedAt      time.Time
	LastRenderedAt time.Time
}

// Key returns the entity's identity.
func (e ListEntity) Key() ListKey {
	return ListKey{ChannelID: e.ChannelID, RoleID: e.TeamRoleID}
}

// Rendered reports whether the entity points at a live message.
func (e ListEntity) Rendered() bool { return e.MessageID != "" }

// IsHidden reports whether roleID is excluded from this list.
func (e ListEntity) IsHidden(roleID string) bool {
	_, ok := slices.BinarySearch(e.HiddenRoles, roleID)
	return ok
}

func (e ListEntity) clone() ListEntity {
	e.HiddenRoles = slices.Clone(e.HiddenRoles)
	return e
}

// RankRole assigns an ordering priority to a role. Name caches the role name seen at registration.
type RankRole struct {
	RoleID   string
	Priority int
	Name     string
}

// CustomParameter annotates roster lines of members holding any of RoleIDs.
type CustomParameter struct {
	Label   string
	RoleIDs []string
}

// GuildSettings holds per-guild presentation options.
type GuildSettings struct {
	// EmbedColor is nil when the guild uses the theme default.
	EmbedColor *int
}

// State is a detached copy of everything the registry holds.
type State struct {
	Lists            []ListEntity
	RankRoles        map[string][]RankRole
	CustomParameters map[string][]CustomParameter
	GuildSettings    map[string]GuildSettings
}

// Empty reports whether the state carries no data at all.
func (s State) Empty() bool {
	return len(s.Lists) == 0 && len(s.RankRoles) == 0 && len(s.CustomParameters) == 0 && len(s.GuildSettings) == 0
}
