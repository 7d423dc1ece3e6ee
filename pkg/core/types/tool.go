package types

// Schema type names as understood by the model endpoint.
const (
	SchemaObject  = "OBJECT"
	SchemaString  = "STRING"
	SchemaNumber  = "NUMBER"
	SchemaInteger = "INTEGER"
	SchemaBoolean = "BOOLEAN"
	SchemaArray   = "ARRAY"
)

// Scheduling hints for function responses.
const (
	SchedulingInterrupt = "INTERRUPT"
	SchedulingWhenIdle  = "WHEN_IDLE"
	SchedulingSilent    = "SILENT"
)

// Schema is the typed parameter schema of a function declaration.
type Schema struct {
	Type        string             `json:"type" yaml:"type"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// FunctionDeclaration describes a callable tool to the model.
type FunctionDeclaration struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// FunctionCall is one tool-call request inside a batch.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse answers one FunctionCall.
type FunctionResponse struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Response   map[string]any `json:"response"`
	Scheduling string         `json:"scheduling,omitempty"`
}
