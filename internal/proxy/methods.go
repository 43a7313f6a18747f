package proxy

import "strings"

// clientNotifications are the editor-to-server methods that carry no id.
var clientNotifications = map[string]bool{
	"initialized":                         true,
	"exit":                                true,
	"textDocument/didOpen":                true,
	"textDocument/didChange":              true,
	"textDocument/didClose":               true,
	"textDocument/didSave":                true,
	"textDocument/willSave":               true,
	"workspace/didChangeConfiguration":    true,
	"workspace/didChangeWatchedFiles":     true,
	"workspace/didChangeWorkspaceFolders": true,
	"workspace/didCreateFiles":            true,
	"workspace/didRenameFiles":            true,
	"workspace/didDeleteFiles":            true,
	"window/workDoneProgress/cancel":      true,
	"notebookDocument/didOpen":            true,
	"notebookDocument/didChange":          true,
	"notebookDocument/didSave":            true,
	"notebookDocument/didClose":           true,
}

// isNotification reports whether the editor sends method as a
// notification. Methods in the $/ namespace always are.
func isNotification(method string) bool {
	return clientNotifications[method] || strings.HasPrefix(method, "$/")
}
