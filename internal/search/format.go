package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const contentLimit = 100

type hit struct {
	Title   *string `json:"title"`
	URL     *string `json:"url"`
	Content *string `json:"content"`
}

// FormatResults renders a search outcome for a terminal.
func FormatResults(result json.RawMessage, err error) string {
	if err != nil {
		return "Error: " + err.Error()
	}

	var body struct {
		Results []hit  `json:"results"`
		Error   string `json:"error"`
	}
	if uerr := json.Unmarshal(result, &body); uerr != nil {
		return "Error: " + uerr.Error()
	}
	if body.Error != "" {
		return "Error: " + body.Error
	}
	if len(body.Results) == 0 {
		return "No results found."
	}

	lines := make([]string, 0, len(body.Results)*4)
	for i, h := range body.Results {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, orDefault(h.Title, "No title")))
		lines = append(lines, "   URL: "+orDefault(h.URL, "No URL"))
		if h.Content != nil {
			lines = append(lines, "   "+clip(*h.Content))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// ErrorJSON is the --json rendering of a failed search.
func ErrorJSON(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Message: err.Error()}
}

func orDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func clip(s string) string {
	r := []rune(s)
	if len(r) > contentLimit {
		return string(r[:contentLimit-3]) + "..."
	}
	return s
}
