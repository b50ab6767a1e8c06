// Package rag retrieves stored context chunks for a turn. The production
// retriever is a sqlite chunk store with keyword scoring; embedding
// generation is out of scope.
package rag

import (
	"context"

	"atui/chat"
)

// Context is the retrieved material a turn may inject before the trailing
// user entry.
type Context struct {
	Text    string
	Sources []string
}

func (c Context) Empty() bool {
	return c.Text == ""
}

// Retriever builds the context for one query. Implementations return an
// empty Context (not an error) when nothing relevant is stored.
type Retriever interface {
	BuildContext(ctx context.Context, agent chat.Agent, query, server string) (Context, error)
}
