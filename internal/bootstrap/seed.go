// Package bootstrap seeds the starter knowledge base so a fresh install
// can answer common labor-dispute questions before the operator curates a
// corpus of their own.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// seedScenario is the directory the starter corpus lands in. It matches
// the default session scenario, so searches scope to it automatically.
const seedScenario = "labor"

// seedFiles lists the starter documents, in seeding order.
var seedFiles = []string{
	"arbitration_process.md",
	"evidence_checklist.md",
	"limitation_periods.md",
}

// ReadTemplate returns the content of an embedded starter document.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SeedKnowledgeBase writes the starter documents under kbPath/labor/.
// Existing files are never overwritten, so operator edits survive
// restarts. Returns the knowledge-base-relative paths created.
func SeedKnowledgeBase(kbPath string) ([]string, error) {
	if kbPath == "" {
		return nil, nil
	}
	dir := filepath.Join(kbPath, seedScenario)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var created []string
	for _, name := range seedFiles {
		ok, err := seedDocument(dir, name)
		if err != nil {
			slog.Warn("bootstrap: failed to seed document", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, filepath.Join(seedScenario, name))
		}
	}
	return created, nil
}

// seedDocument writes one embedded document if it does not exist yet.
// Returns true when the file was created.
func seedDocument(dir, name string) (bool, error) {
	dstPath := filepath.Join(dir, name)

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
