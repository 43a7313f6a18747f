package lsp

import (
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePathToURI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}

	assert.Equal(t, DocumentURI("file:///proj/src/a.ts"), FilePathToURI("/proj/src/a.ts"))
	assert.Equal(t, DocumentURI("file:///proj/with%20space/a.ts"), FilePathToURI("/proj/with space/a.ts"))
	assert.Equal(t, DocumentURI(""), FilePathToURI(""))
}

func TestURIToFilePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}

	assert.Equal(t, "/proj/src/a.ts", URIToFilePath("file:///proj/src/a.ts"))
	assert.Equal(t, "/proj/with space/a.ts", URIToFilePath("file:///proj/with%20space/a.ts"))
	assert.Equal(t, "deno:/https/deno.land/std/mod.ts", URIToFilePath("deno:/https/deno.land/std/mod.ts"))
	assert.Equal(t, "", URIToFilePath(""))
}

func TestRootFolder(t *testing.T) {
	p := InitializeParams{
		WorkspaceFolders: []WorkspaceFolder{{URI: "file:///a", Name: "a"}, {URI: "file:///b", Name: "b"}},
		RootURI:          "file:///c",
	}
	folder, ok := p.RootFolder()
	require.True(t, ok)
	assert.Equal(t, "a", folder.Name)

	p = InitializeParams{RootURI: FilePathToURI(filepath.Join(t.TempDir(), "proj"))}
	folder, ok = p.RootFolder()
	require.True(t, ok)
	assert.Equal(t, "proj", folder.Name)

	_, ok = (&InitializeParams{}).RootFolder()
	assert.False(t, ok)
}

func TestParseLocationResult(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Location
	}{
		{
			name:  "null",
			input: `null`,
		},
		{
			name:  "single location",
			input: `{"uri":"file:///a.ts","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`,
			want: []Location{{
				URI:   "file:///a.ts",
				Range: Range{Start: Position{Line: 1, Character: 2}, End: Position{Line: 1, Character: 5}},
			}},
		},
		{
			name:  "location array",
			input: `[{"uri":"file:///a.ts","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}},{"uri":"file:///b.ts","range":{"start":{"line":4,"character":0},"end":{"line":4,"character":1}}}]`,
			want: []Location{
				{URI: "file:///a.ts", Range: Range{End: Position{Character: 1}}},
				{URI: "file:///b.ts", Range: Range{Start: Position{Line: 4}, End: Position{Line: 4, Character: 1}}},
			},
		},
		{
			name:  "location links use the selection range",
			input: `[{"targetUri":"file:///c.ts","targetRange":{"start":{"line":0,"character":0},"end":{"line":9,"character":0}},"targetSelectionRange":{"start":{"line":2,"character":6},"end":{"line":2,"character":9}}}]`,
			want: []Location{{
				URI:   "file:///c.ts",
				Range: Range{Start: Position{Line: 2, Character: 6}, End: Position{Line: 2, Character: 9}},
			}},
		},
		{
			name:  "empty array",
			input: `[]`,
			want:  []Location{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocationResult(json.RawMessage(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocationResult_Invalid(t *testing.T) {
	_, err := ParseLocationResult(json.RawMessage(`"not a location"`))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
