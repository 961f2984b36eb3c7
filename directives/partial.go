package directives

import (
	"regexp"
	"strings"
)

// knownVerbs are the token openers the partial detector recognizes. Longer
// forms come before their prefixes so multi-word verbs match first.
var knownVerbs = []string{
	"HIGHLIGHT",
	"CIRCLE",
	"ARROW",
	"UNDERLINE",
	"LABEL",
	"TEXT",
	"RECTANGLE",
	"RECT",
	"GO TO PAGE",
	"GOTO",
	"NEXT PAGE",
	"NEXT",
	"PREVIOUS PAGE",
	"PREVIOUS",
	"PREV PAGE",
	"PREV",
	"FIRST PAGE",
	"LAST PAGE",
	"PAGE",
}

// argChars is the character set plausible inside a directive token after its
// verb. Anything outside it means the bracket opens ordinary prose.
var argChars = regexp.MustCompile(`^[\sA-Z0-9=:.,"'#_-]*$`)

// TrailingPartial returns the index of an unclosed directive token at the end
// of text, or -1 when the text ends in ordinary prose. Chunk boundaries are
// arbitrary, so a token such as "[HIGH" must be withheld from display until
// the closing bracket arrives in a later chunk.
func TrailingPartial(text string) int {
	i := strings.LastIndexByte(text, '[')
	if i < 0 {
		return -1
	}
	if strings.IndexByte(text[i:], ']') >= 0 {
		return -1
	}
	if looksLikeDirectiveStart(text[i+1:]) {
		return i
	}
	return -1
}

func looksLikeDirectiveStart(body string) bool {
	up := strings.ToUpper(body)
	for _, v := range knownVerbs {
		if strings.HasPrefix(v, up) {
			return true
		}
		if strings.HasPrefix(up, v) && argChars.MatchString(up[len(v):]) {
			return true
		}
	}
	return false
}
