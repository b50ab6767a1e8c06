package chat

// Agent is the immutable per-send description of who is answering: its system
// prompt, optional model overrides, and the function names it may call.
// Functions entries are either "server:tool" or a bare tool name; Server, when
// set, pins the agent to one chat server from the configuration.
type Agent struct {
	Name          string
	SystemPrompt  string
	Model         string
	Temperature   *float64
	RepeatPenalty *float64
	Functions     []string
	Server        string
}
