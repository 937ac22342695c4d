package bridge

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Position is a zero-based line/character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Selection is a range in a document.
type Selection struct {
	Start   Position `json:"start"`
	End     Position `json:"end"`
	IsEmpty bool     `json:"isEmpty"`
}

// SelectionChangedParams is the payload of a selection_changed notification.
type SelectionChangedParams struct {
	Text      string    `json:"text"`
	FilePath  string    `json:"filePath"`
	FileURL   string    `json:"fileUrl"`
	Selection Selection `json:"selection"`
}

// AtMentionedParams is the payload of an at_mentioned notification. Line
// bounds are optional.
type AtMentionedParams struct {
	FilePath  string `json:"filePath"`
	LineStart *int   `json:"lineStart,omitempty"`
	LineEnd   *int   `json:"lineEnd,omitempty"`
}

// FileURL converts a local path into a file:// URL.
func FileURL(path string) string {
	if path == "" {
		return ""
	}
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		// Windows drive paths need a leading slash: file:///C:/x
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

func (p SelectionChangedParams) normalized() SelectionChangedParams {
	if p.FileURL == "" {
		p.FileURL = FileURL(p.FilePath)
	}
	return p
}
