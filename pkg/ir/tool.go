package ir

// ToolSpec describes one tool exposed to the model. A ToolSpec slice
// is shared by reference between the active request and the "saved
// tools" side channel the FC-inject parser consults (pkg/fcinject) —
// Go slices already share their backing array, so passing the same
// []ToolSpec value around is the reference-counted-immutable-slice
// equivalent called for in the design notes; nothing here mutates an
// element in place.
type ToolSpec struct {
	Name        string
	Description string
	ParametersSchemaRawJSON []byte
	Strict      bool
}

// ToolChoiceKind is the closed set of tool-choice strategies.
type ToolChoiceKind string

const (
	ToolChoiceAuto     ToolChoiceKind = "auto"
	ToolChoiceNone     ToolChoiceKind = "none"
	ToolChoiceRequired ToolChoiceKind = "required"
	ToolChoiceNamed    ToolChoiceKind = "named"
)

// ToolChoice is the canonical tool-choice variant.
type ToolChoice struct {
	Kind ToolChoiceKind
	Name string // only set when Kind == ToolChoiceNamed
}
