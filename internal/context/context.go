// Package context holds the ExecutionContext and ContextSnapshot data
// model shared by the Argument Parser (C3) and the State Store (C4). It
// has no dependencies beyond the standard library so both C3 and C4 can
// import it without creating a cycle.
package context

// Field names one ExecutionContext attribute that can be user-specified,
// snapshotted, or defaulted.
type Field string

const (
	FieldLanguage    Field = "language"
	FieldContestName Field = "contest_name"
	FieldProblemName Field = "problem_name"
	FieldCommandType Field = "command_type"
	FieldEnvType     Field = "env_type"
)

// AllFields lists every field tracked by user_specified bookkeeping.
var AllFields = []Field{FieldLanguage, FieldContestName, FieldProblemName, FieldCommandType, FieldEnvType}

// ExecutionContext is the record consumed by the Step Planner (C5). It is
// not immutable: Set updates it in place, and the CLI shell fills in the
// path fields after parsing.
type ExecutionContext struct {
	Language       string
	ContestName    string
	ProblemName    string
	CommandType    string
	EnvType        string
	WorkspacePath  string
	CurrentPath    string
	StockPath      string
	TemplatePath   string
	SourceFileName string
	RunCommand     string
	LanguageID     string

	// UserSpecified names which fields came from the user this invocation
	// as opposed to the snapshot or a config default.
	UserSpecified map[Field]bool
}

// NewExecutionContext returns a zero-value context with an initialized
// UserSpecified bitset.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{UserSpecified: make(map[Field]bool)}
}

// Get returns the string value currently held for field.
func (c *ExecutionContext) Get(f Field) string {
	switch f {
	case FieldLanguage:
		return c.Language
	case FieldContestName:
		return c.ContestName
	case FieldProblemName:
		return c.ProblemName
	case FieldCommandType:
		return c.CommandType
	case FieldEnvType:
		return c.EnvType
	default:
		return ""
	}
}

// Set assigns value to field and marks it user_specified per userSpecified.
func (c *ExecutionContext) Set(f Field, value string, userSpecified bool) {
	switch f {
	case FieldLanguage:
		c.Language = value
	case FieldContestName:
		c.ContestName = value
	case FieldProblemName:
		c.ProblemName = value
	case FieldCommandType:
		c.CommandType = value
	case FieldEnvType:
		c.EnvType = value
	}
	if userSpecified {
		c.UserSpecified[f] = true
	}
}

// SnapshotValue is one field's last-used value plus whether it was
// user-specified the last time it was recorded. Value is nil to represent
// "explicitly cleared", distinct from the field never having been set.
type SnapshotValue struct {
	Value         *string
	UserSpecified bool
}

// Snapshot is the persisted key-value mapping of ExecutionContext fields
// last used, exactly one logical instance per workspace.
type Snapshot struct {
	Values map[Field]SnapshotValue
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Values: make(map[Field]SnapshotValue)}
}

// ApplyTo seeds ctx's fields from the snapshot, marking every field
// user_specified=false, per Argument Parser step 1.
func (s *Snapshot) ApplyTo(ctx *ExecutionContext) {
	for _, f := range AllFields {
		v, ok := s.Values[f]
		if !ok || v.Value == nil {
			continue
		}
		ctx.Set(f, *v.Value, false)
	}
}
