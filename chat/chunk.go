package chat

// Chunk is one increment of a streamed turn. Chunks for a turn arrive in
// order and exactly one carries Final=true; that terminal chunk also carries
// the function-call records and any retrieved context accumulated during the
// turn. Err marks a provider or configuration failure surfaced as content.
type Chunk struct {
	Agent         string
	Content       string
	Final         bool
	Err           bool
	FunctionCalls []FunctionCall
	Context       string
}
