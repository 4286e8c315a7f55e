package engine

import (
	"context"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// SearchKnowledge runs a full-text query against the knowledge base,
// optionally narrowed to one scenario directory.
func (e *Engine) SearchKnowledge(ctx context.Context, query, scenario string, topK int) ([]protocol.SearchResult, error) {
	return e.retriever.Search(ctx, query, scenario, topK)
}

// ReadKnowledgeFile returns one document by the path a knowledge search
// reported. Paths outside the knowledge root are rejected.
func (e *Engine) ReadKnowledgeFile(path string) (string, error) {
	return e.retriever.ReadFile(path)
}

// KnowledgeInfo summarizes the knowledge base on disk.
func (e *Engine) KnowledgeInfo() (protocol.KnowledgeInfo, error) {
	return e.retriever.Info()
}

// WatchKnowledge blocks watching the knowledge base for changes so that
// searches reuse the cached index until a file actually changes. It
// returns when ctx is done. Optional; without a watcher every search
// rebuilds the index.
func (e *Engine) WatchKnowledge(ctx context.Context) error {
	return e.retriever.Watch(ctx)
}
