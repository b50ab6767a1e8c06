package engine

import (
	"strings"
	"unicode"
)

// FunctionSelector augments an agent's configured function names based on
// the user's message, so a message that plainly names a tool can reach it
// even when the agent does not list it.
type FunctionSelector interface {
	Select(message string, available []string) []string
}

// KeywordSelector is the default selector: a tool is picked when every
// token of its name appears in the message. Tool names are compared in
// their bare form, without the server prefix.
type KeywordSelector struct{}

func (KeywordSelector) Select(message string, available []string) []string {
	tokens := map[string]bool{}
	for _, tok := range splitWords(message) {
		tokens[tok] = true
	}
	if len(tokens) == 0 {
		return nil
	}

	var selected []string
	for _, name := range available {
		bare := name
		if i := strings.IndexByte(bare, ':'); i >= 0 {
			bare = bare[i+1:]
		}
		parts := splitWords(bare)
		if len(parts) == 0 {
			continue
		}
		match := true
		for _, p := range parts {
			if !tokens[p] {
				match = false
				break
			}
		}
		if match {
			selected = append(selected, name)
		}
	}
	return selected
}

// splitWords lowercases and splits on any non-alphanumeric rune, so
// "web_search" and "look up Web Search" tokenize the same way.
func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
