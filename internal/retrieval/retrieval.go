// Package retrieval searches the scenario-keyed markdown knowledge base.
//
// Documents are chunked into 20-line windows and ranked with BM25 over an
// in-memory FTS5 index. The index is rebuilt on every call unless a
// filesystem watcher is running, in which case it is cached until the
// corpus changes.
package retrieval

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const chunkLines = 20

// Retriever owns one knowledge-base root directory.
type Retriever struct {
	root string

	mu       sync.Mutex
	index    *sql.DB
	dirty    bool
	watching bool
}

// New returns a retriever over root. The directory may be empty or absent;
// searches then return no results.
func New(root string) *Retriever {
	return &Retriever{root: root, dirty: true}
}

// Root returns the configured knowledge-base path.
func (r *Retriever) Root() string { return r.root }

// Search returns the topK best chunks for query. When a directory named
// after scenario exists under the root, results are restricted to it;
// otherwise the whole corpus is searched. A blank query returns no results.
func (r *Retriever) Search(ctx context.Context, query, scenario string, topK int) ([]protocol.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []protocol.SearchResult{}, nil
	}
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return []protocol.SearchResult{}, nil
	}
	if topK <= 0 {
		topK = 5
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	db, err := r.acquireIndexLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !r.watching {
		defer db.Close()
	}

	match := make([]string, len(tokens))
	for i, tok := range tokens {
		match[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	matchExpr := strings.Join(match, " OR ")

	q := `SELECT file_path, title, snippet, line_start, line_end, bm25(chunks)
	      FROM chunks WHERE chunks MATCH ?`
	args := []any{matchExpr}
	if scenario != "" && dirExists(filepath.Join(r.root, scenario)) {
		q += ` AND scope = ?`
		args = append(args, scenario)
	}
	q += ` ORDER BY bm25(chunks), file_path, line_start LIMIT ?`
	args = append(args, topK)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "search kb index", err)
	}
	defer rows.Close()

	results := []protocol.SearchResult{}
	for rows.Next() {
		var res protocol.SearchResult
		var rank float64
		if err := rows.Scan(&res.FilePath, &res.Title, &res.Snippet, &res.LineStart, &res.LineEnd, &rank); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, "scan search result", err)
		}
		// bm25() ranks best-first with negative values.
		res.Score = -rank
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "search kb index", err)
	}
	return results, nil
}

// ReadFile returns the content of one knowledge file. The path must resolve
// inside the knowledge root.
func (r *Retriever) ReadFile(path string) (string, error) {
	absRoot, err := filepath.Abs(r.root)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, "resolve kb root", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, "resolve kb file", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errdefs.Newf(errdefs.KindInvalidState, "kb file outside knowledge base: %s", path)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, "read kb file failed", err)
	}
	return string(data), nil
}

// Info reports the corpus size and the newest file modification time.
func (r *Retriever) Info() (protocol.KnowledgeInfo, error) {
	info := protocol.KnowledgeInfo{KBPath: r.root}
	files, err := collectFiles(r.root)
	if err != nil {
		return info, err
	}
	info.FileCount = len(files)
	for _, f := range files {
		st, err := os.Stat(f)
		if err != nil {
			continue
		}
		if mt := st.ModTime().Unix(); mt > info.UpdatedAt {
			info.UpdatedAt = mt
		}
	}
	return info, nil
}

// acquireIndexLocked returns a ready FTS index, reusing the cached one when
// the watcher guarantees freshness. Caller holds r.mu.
func (r *Retriever) acquireIndexLocked(ctx context.Context) (*sql.DB, error) {
	if r.watching && !r.dirty && r.index != nil {
		return r.index, nil
	}
	db, err := r.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	if r.watching {
		if r.index != nil {
			r.index.Close()
		}
		r.index = db
		r.dirty = false
	}
	return db, nil
}

func (r *Retriever) buildIndex(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "open kb index", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx,
		`CREATE VIRTUAL TABLE chunks USING fts5(
			terms,
			file_path UNINDEXED,
			title UNINDEXED,
			snippet UNINDEXED,
			line_start UNINDEXED,
			line_end UNINDEXED,
			scope UNINDEXED
		)`); err != nil {
		db.Close()
		return nil, errdefs.Wrap(errdefs.KindStorage, "create kb index", err)
	}

	files, err := collectFiles(r.root)
	if err != nil {
		db.Close()
		return nil, err
	}
	contents := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			contents[i] = string(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		db.Close()
		return nil, errdefs.Wrap(errdefs.KindStorage, "load kb files", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, errdefs.Wrap(errdefs.KindStorage, "build kb index", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (terms, file_path, title, snippet, line_start, line_end, scope)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		db.Close()
		return nil, errdefs.Wrap(errdefs.KindStorage, "build kb index", err)
	}
	for i, path := range files {
		title := docTitle(contents[i], path)
		scope := pathScope(r.root, path)
		lines := strings.Split(contents[i], "\n")
		for start := 0; start < len(lines); start += chunkLines {
			end := start + chunkLines
			if end > len(lines) {
				end = len(lines)
			}
			snippet := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
			if snippet == "" {
				continue
			}
			terms := strings.Join(Tokenize(title+"\n"+snippet), " ")
			if _, err := stmt.ExecContext(ctx, terms, path, title, snippet, start+1, end, scope); err != nil {
				stmt.Close()
				tx.Rollback()
				db.Close()
				return nil, errdefs.Wrap(errdefs.KindStorage, "build kb index", err)
			}
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, errdefs.Wrap(errdefs.KindStorage, "build kb index", err)
	}
	return db, nil
}

// docTitle extracts the first markdown heading, falling back to the file
// stem, then to a generic label.
func docTitle(content, path string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if stem == "" || stem == "." {
		return "知识库文档"
	}
	return stem
}

// pathScope is the first directory segment under the root, used to confine
// a search to one scenario.
func pathScope(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Wrap(errdefs.KindStorage, "walk kb", err)
	}
	sort.Strings(files)
	return files, nil
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
