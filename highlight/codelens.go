package highlight

import (
	"context"

	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/codelens"
	"github.com/springtools/stsclient/rpc"
)

// CodeLensService turns stored highlights into CodeLenses. Only highlights
// that carry a command title become lenses; the rest are plain decorations.
type CodeLensService struct {
	docs *documents
}

var _ codelens.Provider = (*CodeLensService)(nil)

func NewCodeLensService() *CodeLensService {
	return &CodeLensService{docs: newDocuments()}
}

func (s *CodeLensService) Handle(_ context.Context, p rpc.HighlightParams) error {
	s.docs.put(p)
	return nil
}

func (s *CodeLensService) ProvideCodeLenses(ctx context.Context, uri protocol.DocumentURI) ([]protocol.CodeLens, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := s.docs.get(uri)
	if !ok {
		return nil, nil
	}
	lenses := make([]protocol.CodeLens, 0, len(p.CodeLenses))
	for _, l := range p.CodeLenses {
		if l.Command == nil || l.Command.Title == "" {
			continue
		}
		lenses = append(lenses, l)
	}
	return lenses, nil
}

func (s *CodeLensService) Reset() {
	s.docs.clear()
}
