package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"digest_bot/internal/digest"
	"digest_bot/internal/fetcher"
	"digest_bot/internal/model"
	"digest_bot/internal/storage"
	"digest_bot/internal/summarizer"
)

const (
	msgInternal  = "Something went wrong, please try again."
	msgMenuHint  = "Choose an action:"
	msgExpired   = "This menu has expired. Start again from the main menu."
	msgNameFirst = "Send the name of the new group, or /cancel."
	msgPickGroup = "Pick a group using the buttons above, or /cancel."
	msgNoGroups  = "You have no groups yet. Create a group first."
)

const msgHelp = `This bot collects posts from public channels into digest groups and summarizes them.

/newgroup - create a digest group
/groups - list your groups and their sources
/addsource - add a channel to a group
/digest - get a digest of a group
/cancel - abandon the current step`

// MainMenu is the keyboard shown by /start.
func MainMenu() [][]Button {
	return [][]Button{
		{{Label: "New group", Action: ActionRequestNewGroup}, {Label: "My groups", Action: ActionListGroups}},
		{{Label: "Add source", Action: ActionRequestAddSource}, {Label: "Request digest", Action: ActionRequestDigest}},
	}
}

func (e *Engine) step(ctx context.Context, ev Event, d Dialog) (Dialog, Response) {
	if !ev.IsAction() {
		return e.onText(ctx, ev, d)
	}

	a, err := ParseAction(ev.Action)
	if err != nil {
		e.log.Warn("bad action token", "account_id", ev.AccountID, "token", ev.Action, "error", err)
		return d, Response{Text: msgExpired, Buttons: MainMenu()}
	}

	switch a.Name {
	case ActionStart:
		return Dialog{}, Response{Text: "Welcome! " + msgMenuHint, Buttons: MainMenu()}
	case ActionHelp:
		return Dialog{}, Response{Text: msgHelp, Buttons: MainMenu()}
	case ActionCancel:
		if d.State == StateIdle {
			return Dialog{}, Response{Text: "Nothing to cancel.", Buttons: MainMenu()}
		}
		return Dialog{}, Response{Text: "Cancelled.", Buttons: MainMenu()}
	case ActionRequestNewGroup:
		return Dialog{State: StateAwaitGroupName}, Response{Text: msgNameFirst}
	case ActionListGroups:
		return Dialog{}, e.listGroups(ctx, ev.AccountID)
	case ActionRequestAddSource:
		return e.requestAddSource(ctx, ev.AccountID)
	case ActionListSources:
		return Dialog{}, e.listSources(ctx, ev.AccountID, a.Args[0])
	case ActionSelectGroup:
		return e.selectGroup(d, a.Index)
	case ActionRemoveSource:
		return d, e.removeSource(ctx, ev.AccountID, a.Args[0], a.Args[1])
	case ActionRequestDigest:
		return d, e.digestMenu(ctx, ev.AccountID)
	case ActionDigest:
		return d, e.digest(ctx, ev.AccountID, a.Args[0])
	}
	return d, Response{Text: msgExpired, Buttons: MainMenu()}
}

func (e *Engine) onText(ctx context.Context, ev Event, d Dialog) (Dialog, Response) {
	switch d.State {
	case StateAwaitGroupName:
		return e.createGroup(ctx, ev.AccountID, ev.Text, d)
	case StateAwaitGroupSelection:
		return d, Response{Text: msgPickGroup}
	case StateAwaitSourceHandle:
		return e.attachSource(ctx, ev.AccountID, ev.Text, d)
	default:
		return d, Response{Text: msgMenuHint, Buttons: MainMenu()}
	}
}

func (e *Engine) createGroup(ctx context.Context, accountID int64, text string, d Dialog) (Dialog, Response) {
	name, err := ValidateGroupName(text)
	if err != nil {
		return d, Response{Text: err.Error() + "\n" + msgNameFirst}
	}

	g := &model.DigestGroup{AccountID: accountID, Name: name}
	if err := e.store.CreateGroup(ctx, g); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return d, Response{Text: fmt.Sprintf("You already have a group named %q. Send another name, or /cancel.", name)}
		}
		e.log.Error("create group", "account_id", accountID, "group", name, "error", err)
		return d, Response{Text: msgInternal}
	}

	e.log.Info("group created", "account_id", accountID, "group", name)
	return Dialog{}, Response{
		Text: fmt.Sprintf("Group %q created.", name),
		Buttons: [][]Button{
			{{Label: "Add source", Action: ActionRequestAddSource}},
			{{Label: "Main menu", Action: ActionStart}},
		},
	}
}

func (e *Engine) requestAddSource(ctx context.Context, accountID int64) (Dialog, Response) {
	groups, err := e.store.ListGroups(ctx, accountID)
	if err != nil {
		e.log.Error("list groups", "account_id", accountID, "error", err)
		return Dialog{}, Response{Text: msgInternal}
	}
	if len(groups) == 0 {
		return Dialog{}, Response{Text: msgNoGroups, Buttons: newGroupKeyboard()}
	}

	names := make([]string, len(groups))
	rows := make([][]Button, len(groups))
	for i, g := range groups {
		names[i] = g.Name
		rows[i] = []Button{{Label: g.Name, Action: SelectGroupToken(i)}}
	}
	return Dialog{State: StateAwaitGroupSelection, Groups: names}, Response{
		Text:    "Choose the group to add a source to:",
		Buttons: rows,
	}
}

func (e *Engine) selectGroup(d Dialog, index int) (Dialog, Response) {
	if d.State != StateAwaitGroupSelection {
		return d, Response{Text: msgExpired, Buttons: MainMenu()}
	}
	if index >= len(d.Groups) {
		return d, Response{Text: "That group is not in the list. " + msgPickGroup}
	}

	target := d.Groups[index]
	return Dialog{State: StateAwaitSourceHandle, Target: target}, Response{
		Text: fmt.Sprintf("Send the channel handle to add to %q (for example @durov or https://t.me/durov).", target),
	}
}

func (e *Engine) attachSource(ctx context.Context, accountID int64, text string, d Dialog) (Dialog, Response) {
	handle, err := NormalizeHandle(text)
	if err != nil {
		return d, Response{Text: err.Error() + " Send the channel handle, or /cancel."}
	}

	group, err := e.store.GetGroup(ctx, accountID, d.Target)
	if err != nil {
		return Dialog{}, e.failure("get group", accountID, d.Target, err)
	}

	_, added, err := e.store.AttachSource(ctx, group.ID, handle)
	if err != nil {
		return Dialog{}, e.failure("attach source", accountID, d.Target, err)
	}
	if !added {
		return Dialog{}, Response{
			Text:    fmt.Sprintf("@%s is already in %q.", handle, group.Name),
			Buttons: afterAddKeyboard(group.Name),
		}
	}

	e.log.Info("source attached", "account_id", accountID, "group", group.Name, "handle", handle)
	return Dialog{}, Response{
		Text:    fmt.Sprintf("Added @%s to %q.", handle, group.Name),
		Buttons: afterAddKeyboard(group.Name),
	}
}

func (e *Engine) listGroups(ctx context.Context, accountID int64) Response {
	groups, err := e.store.ListGroups(ctx, accountID)
	if err != nil {
		e.log.Error("list groups", "account_id", accountID, "error", err)
		return Response{Text: msgInternal}
	}
	if len(groups) == 0 {
		return Response{Text: msgNoGroups, Buttons: newGroupKeyboard()}
	}

	var b strings.Builder
	b.WriteString("Your groups:\n")
	rows := make([][]Button, 0, len(groups))
	for _, g := range groups {
		fmt.Fprintf(&b, "\n%s", g.Name)
		rows = append(rows, []Button{{Label: g.Name, Action: Token(ActionListSources, g.Name)}})
	}
	return Response{Text: b.String(), Buttons: rows}
}

func (e *Engine) listSources(ctx context.Context, accountID int64, groupName string) Response {
	group, err := e.store.GetGroup(ctx, accountID, groupName)
	if err != nil {
		return e.failure("get group", accountID, groupName, err)
	}
	sources, err := e.store.ListGroupSources(ctx, group.ID)
	if err != nil {
		return e.failure("list group sources", accountID, groupName, err)
	}

	addRow := []Button{{Label: "Add source", Action: ActionRequestAddSource}}
	if len(sources) == 0 {
		return Response{
			Text:    fmt.Sprintf("%q has no sources yet.", group.Name),
			Buttons: [][]Button{addRow},
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sources of %q:\n", group.Name)
	rows := make([][]Button, 0, len(sources)+1)
	for _, s := range sources {
		fmt.Fprintf(&b, "\n@%s", s.Handle)
		rows = append(rows, []Button{{
			Label:  "Remove @" + s.Handle,
			Action: Token(ActionRemoveSource, group.Name, s.Handle),
		}})
	}
	rows = append(rows, addRow)
	return Response{Text: b.String(), Buttons: rows}
}

func (e *Engine) removeSource(ctx context.Context, accountID int64, groupName, handle string) Response {
	group, err := e.store.GetGroup(ctx, accountID, groupName)
	if err != nil {
		return e.failure("get group", accountID, groupName, err)
	}
	if err := e.store.DetachSource(ctx, group.ID, handle); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Response{Text: fmt.Sprintf("@%s is not in %q.", handle, group.Name)}
		}
		return e.failure("detach source", accountID, groupName, err)
	}

	e.log.Info("source detached", "account_id", accountID, "group", group.Name, "handle", handle)
	return Response{
		Text:    fmt.Sprintf("Removed @%s from %q.", handle, group.Name),
		Buttons: [][]Button{{{Label: "Show sources", Action: Token(ActionListSources, group.Name)}}},
	}
}

func (e *Engine) digestMenu(ctx context.Context, accountID int64) Response {
	groups, err := e.store.ListGroups(ctx, accountID)
	if err != nil {
		e.log.Error("list groups", "account_id", accountID, "error", err)
		return Response{Text: msgInternal}
	}
	if len(groups) == 0 {
		return Response{Text: msgNoGroups, Buttons: newGroupKeyboard()}
	}

	rows := make([][]Button, len(groups))
	for i, g := range groups {
		rows[i] = []Button{{Label: g.Name, Action: Token(ActionDigest, g.Name)}}
	}
	return Response{Text: "Choose a group to summarize:", Buttons: rows}
}

func (e *Engine) digest(ctx context.Context, accountID int64, groupName string) Response {
	group, err := e.store.GetGroup(ctx, accountID, groupName)
	if err != nil {
		return e.failure("get group", accountID, groupName, err)
	}

	var note string
	if e.opts.Refresh && e.collector != nil {
		note = e.refresh(ctx, group)
	}

	text, err := e.composer.Compose(ctx, group)
	if err != nil {
		var se *summarizer.SummarizationError
		switch {
		case errors.Is(err, digest.ErrNothingToSummarize):
			return Response{Text: note + fmt.Sprintf("Nothing to summarize in %q yet.", group.Name)}
		case errors.As(err, &se):
			e.log.Error("compose digest", "account_id", accountID, "group", group.Name, "error", err)
			return Response{Text: note + "The summarizer is unavailable right now. Please try again later."}
		}
		return e.failure("compose digest", accountID, groupName, err)
	}
	return Response{Text: note + fmt.Sprintf("Digest of %q:\n\n%s", group.Name, text)}
}

// refresh collects the group's sources and describes failed ones.
func (e *Engine) refresh(ctx context.Context, group *model.DigestGroup) string {
	sources, err := e.store.ListGroupSources(ctx, group.ID)
	if err != nil {
		e.log.Error("list group sources", "group", group.Name, "error", err)
		return ""
	}
	handles := make([]string, len(sources))
	for i, s := range sources {
		handles[i] = s.Handle
	}

	var failed []string
	for _, r := range e.collector.CollectMany(ctx, handles) {
		var fe *fetcher.FetchError
		if errors.As(r.Err, &fe) {
			failed = append(failed, "@"+fe.Handle)
		} else if r.Err != nil {
			failed = append(failed, "@"+r.Handle)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	return fmt.Sprintf("Could not refresh %s; using previously collected posts.\n\n", strings.Join(failed, ", "))
}

// failure turns a storage error into a reply.
func (e *Engine) failure(op string, accountID int64, groupName string, err error) Response {
	if errors.Is(err, storage.ErrNotFound) {
		return Response{Text: fmt.Sprintf("Group %q not found.", groupName), Buttons: MainMenu()}
	}
	e.log.Error(op, "account_id", accountID, "group", groupName, "error", err)
	return Response{Text: msgInternal}
}

func newGroupKeyboard() [][]Button {
	return [][]Button{{{Label: "New group", Action: ActionRequestNewGroup}}}
}

func afterAddKeyboard(group string) [][]Button {
	return [][]Button{
		{{Label: "Add another", Action: ActionRequestAddSource}},
		{{Label: "Request digest", Action: Token(ActionDigest, group)}},
		{{Label: "Main menu", Action: ActionStart}},
	}
}
