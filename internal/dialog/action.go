package dialog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Separator joins an action name and its arguments.
const Separator = "::"

// Action names carried by buttons and mapped from commands.
const (
	ActionStart            = "start"
	ActionHelp             = "help"
	ActionCancel           = "cancel"
	ActionRequestNewGroup  = "request_new_group"
	ActionListGroups       = "list_groups"
	ActionRequestAddSource = "request_add_source"
	ActionRequestDigest    = "request_digest"
	ActionSelectGroup      = "select_group"
	ActionListSources      = "list_sources"
	ActionRemoveSource     = "remove_source"
	ActionDigest           = "digest"
)

const selectGroupPrefix = ActionSelectGroup + "_"

// MaxGroupNameLen is the longest accepted group name, in characters.
const MaxGroupNameLen = 100

var actionArity = map[string]int{
	ActionStart:            0,
	ActionHelp:             0,
	ActionCancel:           0,
	ActionRequestNewGroup:  0,
	ActionListGroups:       0,
	ActionRequestAddSource: 0,
	ActionRequestDigest:    0,
	ActionListSources:      1,
	ActionRemoveSource:     2,
	ActionDigest:           1,
}

// Action is a parsed action token.
type Action struct {
	Name string
	Args []string
	// Index is set for select_group_<index>.
	Index int
}

// ParseAction parses "name", "name::arg1::arg2" or "select_group_<index>".
func ParseAction(token string) (Action, error) {
	if rest, ok := strings.CutPrefix(token, selectGroupPrefix); ok {
		i, err := strconv.Atoi(rest)
		if err != nil || i < 0 {
			return Action{}, fmt.Errorf("invalid selection %q", rest)
		}
		return Action{Name: ActionSelectGroup, Index: i}, nil
	}

	parts := strings.Split(token, Separator)
	name, args := parts[0], parts[1:]
	n, ok := actionArity[name]
	if !ok {
		return Action{}, fmt.Errorf("unknown action %q", name)
	}
	if len(args) != n {
		return Action{}, fmt.Errorf("action %q takes %d argument(s), got %d", name, n, len(args))
	}
	if n == 0 {
		args = nil
	}
	return Action{Name: name, Args: args}, nil
}

// Token builds an action token from a name and its arguments.
func Token(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), Separator)
}

// SelectGroupToken builds the token for picking the i-th listed group.
func SelectGroupToken(i int) string {
	return selectGroupPrefix + strconv.Itoa(i)
}

var handlePrefixes = []string{"https://", "http://", "www.", "t.me/", "telegram.me/", "s/", "@"}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// NormalizeHandle turns user input such as "@name", "t.me/name" or
// "https://t.me/s/name" into a bare channel handle.
func NormalizeHandle(input string) (string, error) {
	h := strings.TrimSpace(input)
	for _, p := range handlePrefixes {
		h = strings.TrimPrefix(h, p)
	}
	h = strings.TrimSuffix(h, "/")
	h = strings.ReplaceAll(h, Separator, "")

	if h == "" {
		return "", invalid("The channel handle is empty.")
	}
	if !handlePattern.MatchString(h) {
		return "", invalid("A channel handle may only contain letters, digits and underscores.")
	}
	return h, nil
}

// ValidateGroupName trims a proposed group name and checks it. A name may
// not start or end with ':' since a neighbouring separator would then read
// as part of the name inside an action token.
func ValidateGroupName(input string) (string, error) {
	name := strings.TrimSpace(input)
	switch {
	case name == "":
		return "", invalid("The group name cannot be empty.")
	case utf8.RuneCountInString(name) > MaxGroupNameLen:
		return "", invalid(fmt.Sprintf("The group name is too long (max %d characters).", MaxGroupNameLen))
	case strings.Contains(name, Separator):
		return "", invalid(fmt.Sprintf("The group name cannot contain %q.", Separator))
	case strings.HasPrefix(name, ":") || strings.HasSuffix(name, ":"):
		return "", invalid("The group name cannot start or end with \":\".")
	}
	return name, nil
}
