package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/atui",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		DefaultServer: "ollama",
		DefaultModel:  "llama3.1:latest",
		Servers: []ServerConfig{
			{
				Name:     "ollama",
				Protocol: "ollama",
				BaseURL:  "http://localhost:11434",
				Tools:    "auto",
			},
		},
		Tools: ToolsConfig{
			MaxRounds:      8,
			MaxRetries:     2,
			TimeoutSeconds: 60,
			RetryDelayMS:   500,
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# ATUI System Configuration
# Location: ~/.config/atui/settings.toml
# This file uses TOML format: https://toml.io

# Directory where sessions and user config are stored
data_directory = "~/.local/share/atui"
`
}

func GenerateUserConfigTemplate() string {
	return `# ATUI User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Server to use when none is named on a session
default_server = "ollama"

# Default model to use when starting a new session
default_model = "llama3.1:latest"

# Default system prompt for new sessions (optional)
# Example: "You are a helpful coding assistant."
default_system_prompt = ""

# Inject retrieved context into new turns
context_enabled = false

[[servers]]
name = "ollama"
# "ollama" for NDJSON line streaming, "openai" for SSE
protocol = "ollama"
base_url = "http://localhost:11434"
# Function calling: "auto" (per model), "on", or "off"
tools = "auto"

# [[servers]]
# name = "openai"
# protocol = "openai"
# base_url = "https://api.openai.com/v1"
# api_key = ""
# tools = "on"

[tools]
# Call/execute rounds a single turn may run before forcing a reply
max_rounds = 8
# Extra attempts after a failed or timed-out invocation
max_retries = 2
# Per-attempt invocation timeout
timeout_seconds = 60
# Sleep between attempts
retry_delay_ms = 500

# Tool servers launched over stdio
# [[mcp_servers]]
# name = "files"
# command = "mcp-filesystem"
# args = ["--root", "~/notes"]
`
}
