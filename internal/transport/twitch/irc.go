package twitch

import (
	"strings"

	"irlshots/internal/permission"
)

// Line is one parsed IRC line with IRCv3 tags.
type Line struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
}

// Nick returns the nick part of the prefix ("nick!user@host").
func (l Line) Nick() string {
	nick, _, _ := strings.Cut(l.Prefix, "!")
	return nick
}

// Trailing returns the last parameter.
func (l Line) Trailing() string {
	if len(l.Params) == 0 {
		return ""
	}
	return l.Params[len(l.Params)-1]
}

// ParseLine parses "@tags :prefix COMMAND params :trailing".
func ParseLine(raw string) (Line, bool) {
	s := strings.TrimRight(raw, "\r\n")
	if s == "" {
		return Line{}, false
	}
	var l Line
	if strings.HasPrefix(s, "@") {
		tags, rest, ok := strings.Cut(s[1:], " ")
		if !ok {
			return Line{}, false
		}
		l.Tags = parseTags(tags)
		s = strings.TrimLeft(rest, " ")
	}
	if strings.HasPrefix(s, ":") {
		prefix, rest, ok := strings.Cut(s[1:], " ")
		if !ok {
			return Line{}, false
		}
		l.Prefix = prefix
		s = strings.TrimLeft(rest, " ")
	}
	for s != "" {
		if strings.HasPrefix(s, ":") && l.Command != "" {
			l.Params = append(l.Params, s[1:])
			break
		}
		tok, rest, _ := strings.Cut(s, " ")
		if l.Command == "" {
			l.Command = strings.ToUpper(tok)
		} else {
			l.Params = append(l.Params, tok)
		}
		s = strings.TrimLeft(rest, " ")
	}
	return l, l.Command != ""
}

func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, kv := range strings.Split(raw, ";") {
		k, v, _ := strings.Cut(kv, "=")
		if k != "" {
			tags[k] = unescapeTag(v)
		}
	}
	return tags
}

var tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")

func unescapeTag(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	return tagUnescaper.Replace(v)
}

// RolesFromTags maps the badges and mod tags of a PRIVMSG to roles.
func RolesFromTags(tags map[string]string) permission.RoleSet {
	rs := permission.NewRoleSet()
	for _, badge := range strings.Split(tags["badges"], ",") {
		name, _, _ := strings.Cut(badge, "/")
		switch name {
		case "broadcaster":
			rs[permission.RoleBroadcaster] = true
		case "moderator":
			rs[permission.RoleModerator] = true
		case "vip":
			rs[permission.RoleVIP] = true
		case "subscriber", "founder":
			rs[permission.RoleSubscriber] = true
		}
	}
	if tags["mod"] == "1" {
		rs[permission.RoleModerator] = true
	}
	if tags["vip"] == "1" {
		rs[permission.RoleVIP] = true
	}
	if tags["subscriber"] == "1" {
		rs[permission.RoleSubscriber] = true
	}
	return rs
}
