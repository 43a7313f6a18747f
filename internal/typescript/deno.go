package typescript

import (
	"encoding/json"
	"path/filepath"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/lsp-typescript/internal/lsp"
)

// Deno caches remote modules under .../deno/deps/<scheme>/<host>/<hash>,
// where the hash is 64 hex chars. The cached file has no extension, so
// editors open it as plain text.
var denoDepsPattern = regexp.MustCompile(`(?i)^.+/deno/deps/.+`)

// denoHashTail is cut from the path before taking the display name.
const denoHashTail = 60

// DenoDisplayName reports whether path is a cached Deno dependency and, if
// so, the name to show for it.
func DenoDisplayName(path string) (string, bool) {
	slashed := filepath.ToSlash(path)
	if !denoDepsPattern.MatchString(slashed) {
		return "", false
	}

	head := ""
	if len(slashed) > denoHashTail {
		head = slashed[:len(slashed)-denoHashTail]
	}
	base := ""
	if head != "" {
		base = filepath.Base(filepath.FromSlash(head))
	}
	return "d." + base + ".ts", true
}

// plainLanguages are language ids editors use for files they don't know.
var plainLanguages = map[string]bool{
	"":          true,
	"plaintext": true,
	"text":      true,
}

// RewriteDenoDidOpen makes a textDocument/didOpen for a cached Deno
// dependency opened as plain text look like a TypeScript document. It
// returns the (possibly) patched params, the display name and whether a
// rewrite happened.
func RewriteDenoDidOpen(params json.RawMessage) (json.RawMessage, string, bool) {
	lang := gjson.GetBytes(params, "textDocument.languageId").String()
	if !plainLanguages[lang] {
		return params, "", false
	}

	uri := gjson.GetBytes(params, "textDocument.uri").String()
	name, ok := DenoDisplayName(lsp.URIToFilePath(lsp.DocumentURI(uri)))
	if !ok {
		return params, "", false
	}

	patched, err := sjson.SetBytes(params, "textDocument.languageId", "typescript")
	if err != nil {
		return params, "", false
	}
	return patched, name, true
}
