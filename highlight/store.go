// Package highlight keeps the per-document highlights a language server
// pushes through sts/highlight notifications.
package highlight

import (
	"slices"
	"sync"

	"go.lsp.dev/protocol"

	"github.com/springtools/stsclient/rpc"
)

// documents holds the newest highlight per document URI.
type documents struct {
	mu   sync.RWMutex
	docs map[protocol.DocumentURI]rpc.HighlightParams
}

func newDocuments() *documents {
	return &documents{docs: make(map[protocol.DocumentURI]rpc.HighlightParams)}
}

// put stores p unless a newer version of the document is already known.
func (d *documents) put(p rpc.HighlightParams) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.docs[p.Doc.URI]; ok && p.Doc.Version < cur.Doc.Version {
		return false
	}
	p.CodeLenses = slices.Clone(p.CodeLenses)
	d.docs[p.Doc.URI] = p
	return true
}

func (d *documents) get(uri protocol.DocumentURI) (rpc.HighlightParams, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.docs[uri]
	if ok {
		p.CodeLenses = slices.Clone(p.CodeLenses)
	}
	return p, ok
}

func (d *documents) uris() []protocol.DocumentURI {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.DocumentURI, 0, len(d.docs))
	for uri := range d.docs {
		out = append(out, uri)
	}
	slices.Sort(out)
	return out
}

func (d *documents) clear() {
	d.mu.Lock()
	clear(d.docs)
	d.mu.Unlock()
}
