package index

import (
	"sync"

	"github.com/fushugaku/openfork/internal/rag/parser/markdown"
	"github.com/fushugaku/openfork/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
