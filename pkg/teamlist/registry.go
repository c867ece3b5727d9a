package teamlist

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Registry owns all list, rank, parameter and settings state for the process.
// It is safe for concurrent use; every accessor returns copies.
type Registry struct {
	mu       sync.RWMutex
	lists    map[ListKey]*ListEntity
	ranks    map[string]map[string]RankRole // guild -> role -> rank
	params   map[string]map[string][]string // guild -> label -> roles
	settings map[string]GuildSettings
	now      func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		lists:    make(map[ListKey]*ListEntity),
		ranks:    make(map[string]map[string]RankRole),
		params:   make(map[string]map[string][]string),
		settings: make(map[string]GuildSettings),
		now:      time.Now,
	}
}

// ## Lists

// Create starts tracking a list for roleID in channelID.
func (r *Registry) Create(guildID, channelID, roleID string) (ListEntity, error) {
	if err := requireID("guild", guildID); err != nil {
		return ListEntity{}, err
	}
	if err := requireID("channel", channelID); err != nil {
		return ListEntity{}, err
	}
	if err := requireID("role", roleID); err != nil {
		return ListEntity{}, err
	}

	key := ListKey{ChannelID: channelID, RoleID: roleID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.lists[key]; exists {
		return ListEntity{}, fmt.Errorf("list %s: %w", key, ErrAlreadyExists)
	}
	e := &ListEntity{
		GuildID:    guildID,
		ChannelID:  channelID,
		TeamRoleID: roleID,
		CreatedAt:  r.now().UTC(),
	}
	r.lists[key] = e
	return e.clone(), nil
}

// Remove stops tracking a list and returns its final state.
func (r *Registry) Remove(key ListKey) (ListEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.lists[key]
	if !ok {
		return ListEntity{}, fmt.Errorf("list %s: %w", key, ErrNotFound)
	}
	delete(r.lists, key)
	return e.clone(), nil
}

// Get returns a copy of the entity for key.
func (r *Registry) Get(key ListKey) (ListEntity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.lists[key]
	if !ok {
		return ListEntity{}, false
	}
	return e.clone(), true
}

// Lists returns every tracked entity ordered by guild, channel and role.
func (r *Registry) Lists() []ListEntity {
	return r.collect(func(*ListEntity) bool { return true })
}

// ListsInGuild returns the entities tracked in guildID.
func (r *Registry) ListsInGuild(guildID string) []ListEntity {
	return r.collect(func(e *ListEntity) bool { return e.GuildID == guildID })
}

// ListsInChannel returns the entities tracked in channelID.
func (r *Registry) ListsInChannel(channelID string) []ListEntity {
	return r.collect(func(e *ListEntity) bool { return e.ChannelID == channelID })
}

// FindByMessage returns the entity whose rendered message is messageID.
func (r *Registry) FindByMessage(channelID, messageID string) (ListEntity, bool) {
	if messageID == "" {
		return ListEntity{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.lists {
		if e.ChannelID == channelID && e.MessageID == messageID {
			return e.clone(), true
		}
	}
	return ListEntity{}, false
}

func (r *Registry) collect(keep func(*ListEntity) bool) []ListEntity {
	r.mu.RLock()
	out := make([]ListEntity, 0, len(r.lists))
	for _, e := range r.lists {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(out, compareLists)
	return out
}

func compareLists(a, b ListEntity) int {
	return cmp.Or(
		cmp.Compare(a.GuildID, b.GuildID),
		cmp.Compare(a.ChannelID, b.ChannelID),
		cmp.Compare(a.TeamRoleID, b.TeamRoleID),
	)
}

// AddExcludedRole hides members holding roleID from the list. It reports whether the set changed.
func (r *Registry) AddExcludedRole(key ListKey, roleID string) (bool, error) {
	if err := requireID("role", roleID); err != nil {
		return false, err
	}
	return r.mutateList(key, func(e *ListEntity) bool {
		i, found := slices.BinarySearch(e.HiddenRoles, roleID)
		if found {
			return false
		}
		e.HiddenRoles = slices.Insert(e.HiddenRoles, i, roleID)
		return true
	})
}

// RemoveExcludedRole unhides roleID. It reports whether the set changed.
func (r *Registry) RemoveExcludedRole(key ListKey, roleID string) (bool, error) {
	return r.mutateList(key, func(e *ListEntity) bool {
		i, found := slices.BinarySearch(e.HiddenRoles, roleID)
		if !found {
			return false
		}
		e.HiddenRoles = slices.Delete(e.HiddenRoles, i, i+1)
		return true
	})
}

// SetMessageID records the message that now displays the list.
func (r *Registry) SetMessageID(key ListKey, messageID string) error {
	if err := requireID("message", messageID); err != nil {
		return err
	}
	_, err := r.mutateList(key, func(e *ListEntity) bool {
		changed := e.MessageID != messageID
		e.MessageID = messageID
		return changed
	})
	return err
}

// ClearMessageID forgets the rendered message so the next render creates a new one.
// It reports whether an id was cleared.
func (r *Registry) ClearMessageID(key ListKey) (bool, error) {
	return r.mutateList(key, func(e *ListEntity) bool {
		changed := e.MessageID != ""
		e.MessageID = ""
		return changed
	})
}

// MarkRendered stamps the last successful render time.
func (r *Registry) MarkRendered(key ListKey, at time.Time) error {
	_, err := r.mutateList(key, func(e *ListEntity) bool {
		e.LastRenderedAt = at.UTC()
		return true
	})
	return err
}

func (r *Registry) mutateList(key ListKey, fn func(*ListEntity) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.lists[key]
	if !ok {
		return false, fmt.Errorf("list %s: %w", key, ErrNotFound)
	}
	return fn(e), nil
}

// ## Ranks

// SetRankPriority registers or updates a rank role for guildID.
func (r *Registry) SetRankPriority(guildID, roleID, name string, priority int) error {
	if err := requireID("guild", guildID); err != nil {
		return err
	}
	if err := requireID("role", roleID); err != nil {
		return err
	}
	if err := ValidatePriority(priority); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byRole := r.ranks[guildID]
	if byRole == nil {
		byRole = make(map[string]RankRole)
		r.ranks[guildID] = byRole
	}
	byRole[roleID] = RankRole{RoleID: roleID, Priority: priority, Name: name}
	return nil
}

// ValidatePriority checks that p lies in [MinPriority, MaxPriority].
func ValidatePriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return &ArgumentError{
			Field:  "priority",
			Value:  strconv.Itoa(p),
			Reason: fmt.Sprintf("must be between %d and %d", MinPriority, MaxPriority),
			Err:    ErrInvalidPriority,
		}
	}
	return nil
}

// RemoveRankPriority unregisters a rank role.
func (r *Registry) RemoveRankPriority(guildID, roleID string) (RankRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rank, ok := r.ranks[guildID][roleID]
	if !ok {
		return RankRole{}, fmt.Errorf("rank role %s: %w", roleID, ErrNotFound)
	}
	delete(r.ranks[guildID], roleID)
	if len(r.ranks[guildID]) == 0 {
		delete(r.ranks, guildID)
	}
	return rank, nil
}

// RankRoles returns guildID's rank roles by ascending priority, then role id.
func (r *Registry) RankRoles(guildID string) []RankRole {
	r.mu.RLock()
	out := slices.Collect(maps.Values(r.ranks[guildID]))
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b RankRole) int {
		return cmp.Or(cmp.Compare(a.Priority, b.Priority), cmp.Compare(a.RoleID, b.RoleID))
	})
	return out
}

// ## Custom parameters

// SetCustomParameter maps label to roleIDs, replacing any previous mapping.
func (r *Registry) SetCustomParameter(guildID, label string, roleIDs []string) error {
	if err := requireID("guild", guildID); err != nil {
		return err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return argError("label", "", "must not be empty")
	}
	roles := normalizeIDs(roleIDs)
	if len(roles) == 0 {
		return argError("roles", "", "at least one role is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byLabel := r.params[guildID]
	if byLabel == nil {
		byLabel = make(map[string][]string)
		r.params[guildID] = byLabel
	}
	byLabel[label] = roles
	return nil
}

// RemoveCustomParameter deletes label from guildID.
func (r *Registry) RemoveCustomParameter(guildID, label string) error {
	label = strings.TrimSpace(label)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.params[guildID][label]; !ok {
		return fmt.Errorf("custom parameter %q: %w", label, ErrNotFound)
	}
	delete(r.params[guildID], label)
	if len(r.params[guildID]) == 0 {
		delete(r.params, guildID)
	}
	return nil
}

// CustomParameters returns guildID's parameters ordered by label.
func (r *Registry) CustomParameters(guildID string) []CustomParameter {
	r.mu.RLock()
	out := make([]CustomParameter, 0, len(r.params[guildID]))
	for label, roles := range r.params[guildID] {
		out = append(out, CustomParameter{Label: label, RoleIDs: slices.Clone(roles)})
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b CustomParameter) int { return cmp.Compare(a.Label, b.Label) })
	return out
}

// ## Settings

// SetEmbedColor stores a 24-bit RGB accent color for guildID.
func (r *Registry) SetEmbedColor(guildID string, color int) error {
	if err := requireID("guild", guildID); err != nil {
		return err
	}
	if color < 0 || color > 0xFFFFFF {
		return argError("color", fmt.Sprintf("%#x", color), "must be a 24-bit RGB value")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := color
	s := r.settings[guildID]
	s.EmbedColor = &c
	r.settings[guildID] = s
	return nil
}

// EmbedColor returns the guild's accent color, if one was set.
func (r *Registry) EmbedColor(guildID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[guildID]
	if !ok || s.EmbedColor == nil {
		return 0, false
	}
	return *s.EmbedColor, true
}

// PruneRole drops every reference to a deleted role in guildID, except team roles:
// lists keep tracking a missing team role and skip rendering until it returns.
// It reports whether anything changed.
func (r *Registry) PruneRole(guildID, roleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	if _, ok := r.ranks[guildID][roleID]; ok {
		delete(r.ranks[guildID], roleID)
		if len(r.ranks[guildID]) == 0 {
			delete(r.ranks, guildID)
		}
		changed = true
	}
	for label, roles := range r.params[guildID] {
		i := slices.Index(roles, roleID)
		if i < 0 {
			continue
		}
		roles = slices.Delete(roles, i, i+1)
		if len(roles) == 0 {
			delete(r.params[guildID], label)
		} else {
			r.params[guildID][label] = roles
		}
		changed = true
	}
	if len(r.params[guildID]) == 0 {
		delete(r.params, guildID)
	}
	for _, e := range r.lists {
		if e.GuildID != guildID {
			continue
		}
		if i, found := slices.BinarySearch(e.HiddenRoles, roleID); found {
			e.HiddenRoles = slices.Delete(e.HiddenRoles, i, i+1)
			changed = true
		}
	}
	return changed
}

// ## Snapshots

// Snapshot returns a deep copy of the registry.
func (r *Registry) Snapshot() State {
	st := State{
		Lists:            r.Lists(),
		RankRoles:        make(map[string][]RankRole),
		CustomParameters: make(map[string][]CustomParameter),
		GuildSettings:    make(map[string]GuildSettings),
	}

	r.mu.RLock()
	guilds := slices.Collect(maps.Keys(r.ranks))
	paramGuilds := slices.Collect(maps.Keys(r.params))
	for g, s := range r.settings {
		if s.EmbedColor != nil {
			c := *s.EmbedColor
			s.EmbedColor = &c
		}
		st.GuildSettings[g] = s
	}
	r.mu.RUnlock()

	for _, g := range guilds {
		if ranks := r.RankRoles(g); len(ranks) > 0 {
			st.RankRoles[g] = ranks
		}
	}
	for _, g := range paramGuilds {
		if params := r.CustomParameters(g); len(params) > 0 {
			st.CustomParameters[g] = params
		}
	}
	return st
}

// Restore replaces the registry contents with st. The registry is left untouched when st is invalid.
func (r *Registry) Restore(st State) error {
	lists := make(map[ListKey]*ListEntity, len(st.Lists))
	for _, e := range st.Lists {
		if e.ChannelID == "" || e.TeamRoleID == "" {
			return argError("list", e.Key().String(), "channel and role are required")
		}
		if _, dup := lists[e.Key()]; dup {
			return fmt.Errorf("list %s: %w", e.Key(), ErrAlreadyExists)
		}
		c := e.clone()
		c.HiddenRoles = normalizeIDs(c.HiddenRoles)
		lists[e.Key()] = &c
	}

	ranks := make(map[string]map[string]RankRole, len(st.RankRoles))
	for g, rs := range st.RankRoles {
		for _, rank := range rs {
			if err := ValidatePriority(rank.Priority); err != nil {
				return fmt.Errorf("guild %s rank %s: %w", g, rank.RoleID, err)
			}
			if ranks[g] == nil {
				ranks[g] = make(map[string]RankRole)
			}
			ranks[g][rank.RoleID] = rank
		}
	}

	params := make(map[string]map[string][]string, len(st.CustomParameters))
	for g, ps := range st.CustomParameters {
		for _, p := range ps {
			roles := normalizeIDs(p.RoleIDs)
			if p.Label == "" || len(roles) == 0 {
				continue
			}
			if params[g] == nil {
				params[g] = make(map[string][]string)
			}
			params[g][p.Label] = roles
		}
	}

	settings := make(map[string]GuildSettings, len(st.GuildSettings))
	for g, s := range st.GuildSettings {
		if s.EmbedColor != nil {
			c := *s.EmbedColor
			s.EmbedColor = &c
		}
		settings[g] = s
	}

	r.mu.Lock()
	r.lists, r.ranks, r.params, r.settings = lists, ranks, params, settings
	r.mu.Unlock()
	return nil
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return argError(field, "", "must not be empty")
	}
	return nil
}

// normalizeIDs trims, dedupes and sorts ids, dropping blanks.
func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}
