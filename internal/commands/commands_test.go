// internal/commands/commands_test.go
package commands

import (
	"reflect"
	"strings"
	"testing"
)

func TestParse_NonSlashCommand(t *testing.T) {
	tests := []string{
		"hello world",
		"",
		"   ",
		"help",
		"explain /model please",
	}

	for _, input := range tests {
		if result := Parse(input); result != nil {
			t.Errorf("Parse(%q) = %v, want nil", input, result)
		}
		if IsCommand(input) {
			t.Errorf("IsCommand(%q) = true, want false", input)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"/help", Help{}},
		{"/?", Help{}},
		{"/model claude-opus-4-6", SetModel{Model: "claude-opus-4-6"}},
		{"/models", ListModels{}},
		{"/models  opus  4 ", ListModels{Filter: "opus 4"}},
		{"/cancel", Cancel{}},
		{"/stop", Cancel{}},
		{"/new", NewSession{}},
		{"/export", Export{}},
		{"/export ~/notes", Export{Dir: "~/notes"}},
		{"/bookmark", Bookmark{}},
		{"/bookmark good answer", Bookmark{Note: "good answer"}},
		{"/tag bug, api wip", SetTags{Tags: []string{"bug", "api", "wip"}}},
		{"/tags", SetTags{}},
		{"/alias", SetAlias{}},
		{"/alias Refactor the parser", SetAlias{Alias: "Refactor the parser"}},
		{"/usage", ShowUsage{}},
		{"/history", ShowHistory{}},
		{"/quit", Quit{}},
		{"/exit", Quit{}},
	}

	for _, tt := range tests {
		got := Parse(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.want)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		input   string
		wantMsg string
	}{
		{"/model", "/model requires exactly one model id"},
		{"/model a b", "/model requires exactly one model id"},
		{"/debate", "unknown command: /debate"},
		{"/", "unknown command: /"},
	}

	for _, tt := range tests {
		result := Parse(tt.input)
		pe, ok := result.(ParseError)
		if !ok {
			t.Errorf("Parse(%q) = %T, want ParseError", tt.input, result)
			continue
		}
		if pe.Message != tt.wantMsg {
			t.Errorf("Parse(%q).Message = %q, want %q", tt.input, pe.Message, tt.wantMsg)
		}
	}
}

func TestParse_CaseInsensitive(t *testing.T) {
	testCases := []struct {
		inputs  []string
		cmdType string
	}{
		{[]string{"/help", "/HELP", "/Help", "/hElP"}, "help"},
		{[]string{"/cancel", "/CANCEL", "/Stop"}, "cancel"},
		{[]string{"/models", "/MODELS", "/Models"}, "models"},
	}

	for _, tc := range testCases {
		for _, input := range tc.inputs {
			result := Parse(input)
			if result == nil {
				t.Errorf("Parse(%q) = nil, want command of type %q", input, tc.cmdType)
				continue
			}
			if result.Type() != tc.cmdType {
				t.Errorf("Parse(%q).Type() = %q, want %q", input, result.Type(), tc.cmdType)
			}
		}
	}
}

func TestParse_ModelKeepsCase(t *testing.T) {
	got, ok := Parse("/MODEL GPT-5.1-Codex").(SetModel)
	if !ok || got.Model != "GPT-5.1-Codex" {
		t.Errorf("Parse kept %#v, want model id verbatim", got)
	}
}

func TestHelpText(t *testing.T) {
	help := HelpText()
	for _, cmd := range []string{"/help", "/model", "/models", "/cancel", "/new", "/export", "/bookmark", "/tag", "/alias", "/usage", "/history", "/quit"} {
		if !strings.Contains(help, cmd) {
			t.Errorf("HelpText() missing documentation for %q", cmd)
		}
	}
}

func TestCommandTypes(t *testing.T) {
	tests := []struct {
		cmd      Command
		wantType string
	}{
		{Help{}, "help"},
		{SetModel{}, "model"},
		{ListModels{}, "models"},
		{Cancel{}, "cancel"},
		{NewSession{}, "new"},
		{Export{}, "export"},
		{Bookmark{}, "bookmark"},
		{SetTags{}, "tag"},
		{SetAlias{}, "alias"},
		{ShowUsage{}, "usage"},
		{ShowHistory{}, "history"},
		{Quit{}, "quit"},
		{ParseError{}, "error"},
	}

	for _, tt := range tests {
		if got := tt.cmd.Type(); got != tt.wantType {
			t.Errorf("%T.Type() = %q, want %q", tt.cmd, got, tt.wantType)
		}
	}
}
