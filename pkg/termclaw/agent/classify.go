package agent

import "strings"

// QueryType selects which system instructions and exemplars are sent with a
// user turn.
type QueryType int

const (
	// QueryExecute asks the model to translate the request into a shell command.
	QueryExecute QueryType = iota
	// QueryQuestion asks the model for an informational answer, no command.
	QueryQuestion
	// QueryError asks the model to analyze a failed command's error output.
	// Never chosen by Classify; entered only via the examine-error flow.
	QueryError
)

// String returns a short label for logging.
func (q QueryType) String() string {
	switch q {
	case QueryExecute:
		return "execute"
	case QueryQuestion:
		return "question"
	case QueryError:
		return "error"
	default:
		return "unknown"
	}
}

// Classify maps raw user input to a query type. A question mark anywhere in
// the trimmed input selects Question; everything else is Execute.
func Classify(rawInput string) QueryType {
	if strings.Contains(strings.TrimSpace(rawInput), "?") {
		return QueryQuestion
	}
	return QueryExecute
}

// directive carries the state one cycle hands to the next. Modeling the
// sticky mode override and the suppressed-turn flags as explicit fields
// keeps them out of ambient mutable state.
type directive struct {
	// mode is the pinned query type when sticky is true.
	mode QueryType

	// sticky pins mode across the end-of-cycle reset. Set when the user
	// asks to examine a failed command; cleared once a full reply cycle
	// completes without a follow-up examination.
	sticky bool

	// skipUserInput suppresses the new-user-turn step. Set on tool-call
	// continuations, where no new human input exists.
	skipUserInput bool

	// skipEnvContext suppresses the dynamic environment turn (cwd, time).
	// Set on tool-call continuations to avoid restating context.
	skipEnvContext bool
}

// modeFor resolves the effective query type for the given input. A sticky
// override or a tool-call continuation keeps the carried mode; otherwise
// the input is classified fresh.
func (d directive) modeFor(input string) QueryType {
	if d.sticky || d.skipUserInput {
		return d.mode
	}
	return Classify(input)
}
