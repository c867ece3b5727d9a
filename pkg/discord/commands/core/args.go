package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"
)

// Args holds the resolved arguments of one invocation. Role and string options
// are stored as strings, integer options as int64.
type Args struct {
	values map[string]any
}

// NewArgs builds Args from already resolved values.
func NewArgs(values map[string]any) Args {
	return Args{values: values}
}

// ArgsFromOptions extracts slash command options.
func ArgsFromOptions(options []*discordgo.ApplicationCommandInteractionDataOption) Args {
	values := make(map[string]any, len(options))
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionRole:
			values[opt.Name] = opt.RoleValue(nil, "").ID
		case discordgo.ApplicationCommandOptionInteger:
			values[opt.Name] = opt.IntValue()
		case discordgo.ApplicationCommandOptionString:
			values[opt.Name] = strings.TrimSpace(opt.StringValue())
		case discordgo.ApplicationCommandOptionBoolean:
			values[opt.Name] = opt.BoolValue()
		}
	}
	return Args{values: values}
}

// Has reports whether the option was provided.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Role returns a role option's id.
func (a Args) Role(name string) (string, bool) {
	v, ok := a.values[name].(string)
	return v, ok && v != ""
}

// Int returns an integer option.
func (a Args) Int(name string) (int64, bool) {
	v, ok := a.values[name].(int64)
	return v, ok
}

// String returns a string option, or "".
func (a Args) String(name string) string {
	v, _ := a.values[name].(string)
	return v
}

// RoleList parses every role mention or id in a string option.
func (a Args) RoleList(name string) []string {
	return ParseRoleIDs(a.String(name))
}

// RequireRole is Role with a user-facing error when the option is missing.
func (a Args) RequireRole(name string) (string, error) {
	id, ok := a.Role(name)
	if !ok {
		return "", InvalidArgument("Missing role argument `%s`.", name)
	}
	return id, nil
}

var (
	roleMention = regexp.MustCompile(`^<@&(\d+)>$`)
	anyRoleRef  = regexp.MustCompile(`<@&(\d+)>|\b(\d{15,21})\b`)
	snowflake   = regexp.MustCompile(`^\d{15,21}$`)
)

// ParseRoleIDs finds role mentions and raw ids in s, in order, without duplicates.
func ParseRoleIDs(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range anyRoleRef.FindAllStringSubmatch(s, -1) {
		id := m[1]
		if id == "" {
			id = m[2]
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Tokenize splits a prefixed command body on whitespace, keeping "double quoted" runs together.
func Tokenize(s string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quoted bool
		inTok  bool
	)
	flush := func() {
		if inTok {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inTok = false
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			inTok = true
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	flush()
	return tokens
}

// ParsePrefixArgs maps positional tokens onto the command's options.
// The last string option takes the rest of the line. Role tokens may be a mention,
// a raw id or a role name, resolved through roles.
func ParsePrefixArgs(ctx context.Context, defs []*discordgo.ApplicationCommandOption, tokens []string, roles RoleSource, guildID string) (Args, error) {
	values := make(map[string]any, len(defs))
	var names map[string]string
	lookup := func(token string) (string, bool) {
		if names == nil {
			names = map[string]string{}
			if roles != nil && guildID != "" {
				if rs, err := roles.Roles(ctx, guildID); err == nil {
					for _, r := range rs {
						names[strings.ToLower(r.Name)] = r.ID
					}
				}
			}
		}
		id, ok := names[strings.ToLower(strings.TrimPrefix(token, "@"))]
		return id, ok
	}

	pos := 0
	for i, def := range defs {
		if pos >= len(tokens) {
			if def.Required {
				return Args{}, InvalidArgument("Missing argument `%s`.", def.Name)
			}
			continue
		}
		tok := tokens[pos]
		switch def.Type {
		case discordgo.ApplicationCommandOptionRole:
			switch {
			case roleMention.MatchString(tok):
				values[def.Name] = roleMention.FindStringSubmatch(tok)[1]
			case snowflake.MatchString(tok):
				values[def.Name] = tok
			default:
				id, ok := lookup(tok)
				if !ok {
					return Args{}, InvalidArgument("Role `%s` not found.", tok)
				}
				values[def.Name] = id
			}
			pos++
		case discordgo.ApplicationCommandOptionInteger:
			n, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				return Args{}, InvalidArgument("`%s` must be a whole number.", def.Name)
			}
			values[def.Name] = n
			pos++
		case discordgo.ApplicationCommandOptionBoolean:
			b, err := strconv.ParseBool(tok)
			if err != nil {
				return Args{}, InvalidArgument("`%s` must be true or false.", def.Name)
			}
			values[def.Name] = b
			pos++
		default:
			if lastString(defs, i) {
				values[def.Name] = strings.Join(tokens[pos:], " ")
				pos = len(tokens)
			} else {
				values[def.Name] = tok
				pos++
			}
		}
	}
	return Args{values: values}, nil
}

func lastString(defs []*discordgo.ApplicationCommandOption, i int) bool {
	for _, d := range defs[i+1:] {
		if d.Type == discordgo.ApplicationCommandOptionString {
			return false
		}
	}
	return true
}

// Usage renders the prefixed form of cmd, e.g. "!hiderole <team_role> <role_to_hide>".
func Usage(prefix string, cmd Command) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(cmd.Name())
	for _, opt := range cmd.Options() {
		if opt.Required {
			fmt.Fprintf(&b, " <%s>", opt.Name)
		} else {
			fmt.Fprintf(&b, " [%s]", opt.Name)
		}
	}
	return b.String()
}
