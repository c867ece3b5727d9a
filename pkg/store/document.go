package store

import (
	"time"

	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// DocumentVersion is written into every saved document.
const DocumentVersion = 1

// Document is the on-disk layout. All identifiers are strings; timestamps are RFC 3339.
type Document struct {
	Version          int                              `json:"version"`
	SavedAt          time.Time                        `json:"saved_at"`
	Lists            map[string]map[string]ListRecord `json:"lists"`             // channel -> role
	RankRoles        map[string]map[string]RankRecord `json:"rank_roles"`        // guild -> role
	CustomParameters map[string]map[string][]string   `json:"custom_parameters"` // guild -> label -> roles
	GuildSettings    map[string]GuildSettingsRecord   `json:"guild_settings"`
}

type ListRecord struct {
	GuildID        string     `json:"guild_id"`
	HiddenRoles    []string   `json:"hidden_roles"`
	MessageID      string     `json:"message_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRenderedAt *time.Time `json:"last_rendered_at,omitempty"`
}

type RankRecord struct {
	Priority int    `json:"priority"`
	Name     string `json:"name,omitempty"`
}

type GuildSettingsRecord struct {
	EmbedColor *int `json:"embed_color,omitempty"`
}

// NewDocument converts a registry snapshot to its persisted form.
func NewDocument(st teamlist.State, savedAt time.Time) Document {
	doc := Document{
		Version:          DocumentVersion,
		SavedAt:          savedAt.UTC(),
		Lists:            make(map[string]map[string]ListRecord),
		RankRoles:        make(map[string]map[string]RankRecord),
		CustomParameters: make(map[string]map[string][]string),
		GuildSettings:    make(map[string]GuildSettingsRecord),
	}
	for _, e := range st.Lists {
		byRole := doc.Lists[e.ChannelID]
		if byRole == nil {
			byRole = make(map[string]ListRecord)
			doc.Lists[e.ChannelID] = byRole
		}
		rec := ListRecord{
			GuildID:     e.GuildID,
			HiddenRoles: append([]string{}, e.HiddenRoles...),
			MessageID:   e.MessageID,
			CreatedAt:   e.CreatedAt.UTC(),
		}
		if !e.LastRenderedAt.IsZero() {
			t := e.LastRenderedAt.UTC()
			rec.LastRenderedAt = &t
		}
		byRole[e.TeamRoleID] = rec
	}
	for g, ranks := range st.RankRoles {
		m := make(map[string]RankRecord, len(ranks))
		for _, r := range ranks {
			m[r.RoleID] = RankRecord{Priority: r.Priority, Name: r.Name}
		}
		doc.RankRoles[g] = m
	}
	for g, params := range st.CustomParameters {
		m := make(map[string][]string, len(params))
		for _, p := range params {
			m[p.Label] = append([]string{}, p.RoleIDs...)
		}
		doc.CustomParameters[g] = m
	}
	for g, s := range st.GuildSettings {
		if s.EmbedColor == nil {
			continue
		}
		c := *s.EmbedColor
		doc.GuildSettings[g] = GuildSettingsRecord{EmbedColor: &c}
	}
	return doc
}

// State converts the document back to a registry snapshot.
func (d Document) State() teamlist.State {
	st := teamlist.State{
		RankRoles:        make(map[string][]teamlist.RankRole),
		CustomParameters: make(map[string][]teamlist.CustomParameter),
		GuildSettings:    make(map[string]teamlist.GuildSettings),
	}
	for channelID, byRole := range d.Lists {
		for roleID, rec := range byRole {
			e := teamlist.ListEntity{
				GuildID:     rec.GuildID,
				ChannelID:   channelID,
				TeamRoleID:  roleID,
				HiddenRoles: append([]string(nil), rec.HiddenRoles...),
				MessageID:   rec.MessageID,
				CreatedAt:   rec.CreatedAt,
			}
			if rec.LastRenderedAt != nil {
				e.LastRenderedAt = *rec.LastRenderedAt
			}
			st.Lists = append(st.Lists, e)
		}
	}
	for g, ranks := range d.RankRoles {
		for roleID, r := range ranks {
			st.RankRoles[g] = append(st.RankRoles[g], teamlist.RankRole{RoleID: roleID, Priority: r.Priority, Name: r.Name})
		}
	}
	for g, params := range d.CustomParameters {
		for label, roles := range params {
			st.CustomParameters[g] = append(st.CustomParameters[g], teamlist.CustomParameter{
				Label:   label,
				RoleIDs: append([]string(nil), roles...),
			})
		}
	}
	for g, s := range d.GuildSettings {
		if s.EmbedColor == nil {
			continue
		}
		c := *s.EmbedColor
		st.GuildSettings[g] = teamlist.GuildSettings{EmbedColor: &c}
	}
	return st
}
