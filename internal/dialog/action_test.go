package dialog

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		token   string
		want    Action
		wantErr bool
	}{
		{token: "request_new_group", want: Action{Name: ActionRequestNewGroup}},
		{token: "list_groups", want: Action{Name: ActionListGroups}},
		{token: "select_group_0", want: Action{Name: ActionSelectGroup, Index: 0}},
		{token: "select_group_12", want: Action{Name: ActionSelectGroup, Index: 12}},
		{token: "list_sources::Morning News", want: Action{Name: ActionListSources, Args: []string{"Morning News"}}},
		{token: "remove_source::Morning News::bbc", want: Action{Name: ActionRemoveSource, Args: []string{"Morning News", "bbc"}}},
		{token: "digest::Tech", want: Action{Name: ActionDigest, Args: []string{"Tech"}}},
		{token: "select_group_", wantErr: true},
		{token: "select_group_-1", wantErr: true},
		{token: "select_group_x", wantErr: true},
		{token: "remove_source::only", wantErr: true},
		{token: "list_groups::extra", wantErr: true},
		{token: "unknown", wantErr: true},
		{token: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseAction(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseAction mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token := Token(ActionRemoveSource, "News", "bbc")
	if token != "remove_source::News::bbc" {
		t.Fatalf("token = %q", token)
	}
	a, err := ParseAction(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff([]string{"News", "bbc"}, a.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "examplechannel", want: "examplechannel"},
		{in: "  @examplechannel \n", want: "examplechannel"},
		{in: "t.me/examplechannel", want: "examplechannel"},
		{in: "https://t.me/examplechannel", want: "examplechannel"},
		{in: "https://t.me/s/examplechannel/", want: "examplechannel"},
		{in: "CaseMatters", want: "CaseMatters"},
		{in: "bad::handle", want: "badhandle"},
		{in: "", wantErr: true},
		{in: "@", wantErr: true},
		{in: "snake_case_42", want: "snake_case_42"},
		{in: "two words", wantErr: true},
		{in: ":lead", wantErr: true},
		{in: "durov/123", wantErr: true},
		{in: "https://t.me/durov/123", wantErr: true},
		{in: "durov?x=1", wantErr: true},
		{in: "канал", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeHandle(tt.in)
			if tt.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected *ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeHandle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateGroupName(t *testing.T) {
	for in, want := range map[string]string{
		"  Morning News ": "Morning News",
		"News: World":     "News: World",
		"12:00 briefing":  "12:00 briefing",
	} {
		got, err := ValidateGroupName(in)
		if err != nil {
			t.Fatalf("ValidateGroupName(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ValidateGroupName(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "  ", "a::b", "News:", " News: ", ":News", ":"} {
		var ve *ValidationError
		if _, err := ValidateGroupName(in); !errors.As(err, &ve) {
			t.Errorf("ValidateGroupName(%q): expected *ValidationError, got %v", in, err)
		}
	}
}

func TestStateString(t *testing.T) {
	want := []string{"IDLE", "AWAIT_GROUP_NAME", "AWAIT_GROUP_SELECTION", "AWAIT_SOURCE_HANDLE", "UNKNOWN"}
	for i, w := range want {
		if got := State(i).String(); got != w {
			t.Errorf("State(%d) = %q, want %q", i, got, w)
		}
	}
}
