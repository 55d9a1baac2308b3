package lql

// PredicateKind identifies the type of leaf predicate.
type PredicateKind int

const (
	// PredToken is a bare word match against body.event_message: "timeout"
	PredToken PredicateKind = iota

	// PredKV is an exact key=value match: "level=error"
	PredKV

	// PredKeyExists is a key existence check: "level=*"
	PredKeyExists

	// PredValueExists is a value existence check: "*=error"
	PredValueExists

	// PredRegex matches a compiled regex against body.event_message: /time.*out/
	PredRegex

	// PredGlob matches a glob pattern on the value side (host=web-*) or,
	// bare, against body.event_message (web-*); keys cannot be globs
	PredGlob
)

func (k PredicateKind) String() string {
	switch k {
	case PredToken:
		return "token"
	case PredKV:
		return "kv"
	case PredKeyExists:
		return "key_exists"
	case PredValueExists:
		return "value_exists"
	case PredRegex:
		return "regex"
	case PredGlob:
		return "glob"
	default:
		return "unknown"
	}
}
