package models

// Role names with dedicated marker pairs.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Markers is the delimiter vocabulary used to flatten messages into a prompt.
// Any field may be empty, meaning no delimiter is emitted.
type Markers struct {
	SystemOpen  string `yaml:"systemOpen" json:"systemOpen"`
	SystemClose string `yaml:"systemClose" json:"systemClose"`
	// SystemBreak is placed between system content and SystemClose. Profiles
	// leave it empty unless they set it; use systemBreak: "\n" in a profile to
	// end system content with a newline the way the default marker set does.
	SystemBreak string `yaml:"systemBreak" json:"systemBreak"`

	UserOpen  string `yaml:"userOpen" json:"userOpen"`
	UserClose string `yaml:"userClose" json:"userClose"`

	ModelOpen  string `yaml:"modelOpen" json:"modelOpen"`
	ModelClose string `yaml:"modelClose" json:"modelClose"`

	ReasoningOpen  string `yaml:"reasoningOpen" json:"reasoningOpen"`
	ReasoningClose string `yaml:"reasoningClose" json:"reasoningClose"`

	StopSequence string `yaml:"stopSequence" json:"stopSequence"`
}

// Message is a single role-tagged entry of a conversation. Content is either
// a string or structured data decoded from JSON.
type Message struct {
	Role      string `json:"role"`
	Content   any    `json:"content"`
	Name      string `json:"name,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// History is the persisted message sequence of one session.
type History struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// Profile describes a model: its marker vocabulary and generation defaults.
type Profile struct {
	Name       string         `yaml:"name" json:"name"`
	Markers    Markers        `yaml:"markers" json:"markers"`
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// Parsed is a backend completion split into user-facing content and the
// reasoning extracted from it.
type Parsed struct {
	Content      string `json:"content"`
	Reasoning    string `json:"reasoning,omitempty"`
	HasReasoning bool   `json:"-"`
}
