package bridge

// Version is reported in serverInfo during the handshake.
const Version = "0.1.0"

// Tool describes one entry of the advertised tool catalog.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// DefaultTools is the static catalog advertised through tools/list. The
// bridge never executes these; agents use the list to detect an IDE peer.
func DefaultTools() []Tool {
	empty := objectSchema(nil, map[string]any{})
	return []Tool{
		{
			Name:        "openFile",
			Description: "Open a file in the editor and optionally select a range of text",
			InputSchema: objectSchema([]string{"filePath"}, map[string]any{
				"filePath":      stringProp("Path to the file to open"),
				"preview":       map[string]any{"type": "boolean", "description": "Whether to open the file in preview mode"},
				"startText":     stringProp("Text pattern to find the start of the selection"),
				"endText":       stringProp("Text pattern to find the end of the selection"),
				"makeFrontmost": map[string]any{"type": "boolean", "description": "Whether to focus the opened file"},
			}),
		},
		{
			Name:        "openDiff",
			Description: "Open a diff view comparing a file with proposed contents",
			InputSchema: objectSchema([]string{"old_file_path", "new_file_path", "new_file_contents", "tab_name"}, map[string]any{
				"old_file_path":     stringProp("Path to the file to compare against"),
				"new_file_path":     stringProp("Path of the proposed file"),
				"new_file_contents": stringProp("Proposed file contents"),
				"tab_name":          stringProp("Name of the diff tab"),
			}),
		},
		{
			Name:        "getCurrentSelection",
			Description: "Get the current text selection in the active editor",
			InputSchema: empty,
		},
		{
			Name:        "getLatestSelection",
			Description: "Get the most recent text selection, even if the editor lost focus",
			InputSchema: empty,
		},
		{
			Name:        "getOpenEditors",
			Description: "Get the list of currently open editor tabs",
			InputSchema: empty,
		},
		{
			Name:        "getWorkspaceFolders",
			Description: "Get the workspace folders currently open",
			InputSchema: empty,
		},
		{
			Name:        "getDiagnostics",
			Description: "Get language diagnostics for a file or the whole workspace",
			InputSchema: objectSchema(nil, map[string]any{
				"uri": stringProp("Optional file URI; all files when omitted"),
			}),
		},
		{
			Name:        "checkDocumentDirty",
			Description: "Check whether a document has unsaved changes",
			InputSchema: objectSchema([]string{"filePath"}, map[string]any{
				"filePath": stringProp("Path to the file to check"),
			}),
		},
		{
			Name:        "saveDocument",
			Description: "Save a document with unsaved changes",
			InputSchema: objectSchema([]string{"filePath"}, map[string]any{
				"filePath": stringProp("Path to the file to save"),
			}),
		},
		{
			Name:        "close_tab",
			Description: "Close an editor tab by name",
			InputSchema: objectSchema([]string{"tab_name"}, map[string]any{
				"tab_name": stringProp("Name of the tab to close"),
			}),
		},
		{
			Name:        "closeAllDiffTabs",
			Description: "Close every open diff tab",
			InputSchema: empty,
		},
	}
}
