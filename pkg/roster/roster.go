// Package roster turns a team role's members into an ordered, labelled roster.
package roster

import (
	"iter"
	"slices"
	"strings"

	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

// Member is the platform-neutral view of a guild member.
type Member struct {
	ID          string
	DisplayName string
	Bot         bool
	RoleIDs     []string
}

func (m Member) hasRole(id string) bool { return slices.Contains(m.RoleIDs, id) }

// Params carries everything Build needs besides the members.
type Params struct {
	TeamRoleID  string
	HiddenRoles []string
	Ranks       []teamlist.RankRole
	Custom      []teamlist.CustomParameter
	// RoleNames maps role id to its current name. Missing entries fall back to
	// the cached rank name or the raw id.
	RoleNames map[string]string
}

// Line is one rendered roster row. Index is 1-based.
type Line struct {
	Index        int
	MemberID     string
	DisplayName  string
	RankLabel    string
	RankPriority int
	Annotation   string
}

// Roster is a finite ordered sequence of lines. It can be iterated any number of times.
type Roster struct {
	lines []Line
}

// All yields (position, line) pairs in display order.
func (r Roster) All() iter.Seq2[int, Line] {
	return func(yield func(int, Line) bool) {
		for i, l := range r.lines {
			if !yield(i, l) {
				return
			}
		}
	}
}

// Len is the number of lines.
func (r Roster) Len() int { return len(r.lines) }

// Lines returns a copy of the lines.
func (r Roster) Lines() []Line { return slices.Clone(r.lines) }

type rankInfo struct {
	priority int
	label    string
}

// Build selects non-bot holders of the team role, drops anyone holding a hidden role,
// ranks each member by their lowest-numbered rank role and sorts ascending.
// Members with equal priority keep their input order.
func Build(members []Member, p Params) Roster {
	ranks := make(map[string]rankInfo, len(p.Ranks))
	for _, rr := range p.Ranks {
		label := p.RoleNames[rr.RoleID]
		if label == "" {
			label = rr.Name
		}
		if label == "" {
			label = rr.RoleID
		}
		ranks[rr.RoleID] = rankInfo{priority: rr.Priority, label: label}
	}

	type entry struct {
		m    Member
		rank rankInfo
	}
	var entries []entry
	for _, m := range members {
		if m.Bot || !m.hasRole(p.TeamRoleID) || holdsAny(m, p.HiddenRoles) {
			continue
		}
		entries = append(entries, entry{m: m, rank: effectiveRank(m, ranks)})
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return a.rank.priority - b.rank.priority
	})

	lines := make([]Line, len(entries))
	for i, e := range entries {
		lines[i] = Line{
			Index:        i + 1,
			MemberID:     e.m.ID,
			DisplayName:  e.m.DisplayName,
			RankLabel:    e.rank.label,
			RankPriority: e.rank.priority,
			Annotation:   annotate(e.m, p.Custom, p.RoleNames),
		}
	}
	return Roster{lines: lines}
}

// holdsAny is union exclusion: one hidden role is enough.
func holdsAny(m Member, hidden []string) bool {
	for _, id := range hidden {
		if m.hasRole(id) {
			return true
		}
	}
	return false
}

func effectiveRank(m Member, ranks map[string]rankInfo) rankInfo {
	best := rankInfo{priority: teamlist.NoRankPriority, label: teamlist.NoRankLabel}
	for _, id := range m.RoleIDs {
		r, ok := ranks[id]
		if !ok {
			continue
		}
		if r.priority < best.priority {
			best = r
		}
	}
	return best
}

// annotate joins "label: role,role" for every parameter the member matches.
func annotate(m Member, params []teamlist.CustomParameter, names map[string]string) string {
	var frags []string
	for _, p := range params {
		var matched []string
		for _, id := range p.RoleIDs {
			if !m.hasRole(id) {
				continue
			}
			name := names[id]
			if name == "" {
				name = id
			}
			matched = append(matched, name)
		}
		if len(matched) > 0 {
			frags = append(frags, p.Label+": "+strings.Join(matched, ","))
		}
	}
	return strings.Join(frags, "; ")
}
