package agent

// ActionGrammar constrains a completion to exactly one device-action
// JSON object, in the GBNF dialect llama.cpp-style servers accept. A
// backend that honors it produces text the extractor parses directly;
// a backend that ignores it still works through the lossier recovery
// strategies.
const ActionGrammar = `root      ::= "{" ws kindpair ("," ws member)* ws "}"
kindpair  ::= "\"action\"" ws ":" ws kind
kind      ::= "\"CLICK\"" | "\"TYPE\"" | "\"SCROLL\"" | "\"BACK\"" | "\"HOME\"" | "\"WAIT\"" | "\"NONE\""
member    ::= target | text | direction | reasoning
target    ::= "\"target\"" ws ":" ws string
text      ::= "\"text\"" ws ":" ws string
direction ::= "\"direction\"" ws ":" ws ("\"UP\"" | "\"DOWN\"" | "\"LEFT\"" | "\"RIGHT\"")
reasoning ::= "\"reasoning\"" ws ":" ws string
string    ::= "\"" char* "\""
char      ::= [^"\\] | "\\" (["\\/bfnrt] | "u" [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F])
ws        ::= [ \t\n]*
`

// Sampling holds the completion parameters the nodes request.
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultSampling is tuned for short structured decisions on a small
// on-device model.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.3, TopP: 0.9, MaxTokens: 256}
}
