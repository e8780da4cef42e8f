package gitdiff

import (
	"path"

	"github.com/alecthomas/chroma/v2/lexers"
)

// languageFor returns the display name of the lexer matching path, or ""
// when no lexer claims it.
func languageFor(p string) string {
	if p == "" {
		return ""
	}
	lexer := lexers.Match(path.Base(p))
	if lexer == nil {
		return ""
	}
	return lexer.Config().Name
}
