package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode"
)

// versionLayout timestamps new migrations so versions sort by creation time.
const versionLayout = "20060102150405"

var scaffold = template.Must(template.New("migration").Parse(
	`-- Migration: {{.Name}}{{if .Down}} (rollback){{end}}
-- Created: {{.Created}}
-- Description: {{.Description}}
{{if .Down}}
-- Undo every statement of the matching up migration, newest first.
{{else}}
-- Tenant-owned tables carry tenant_id BIGINT NOT NULL, leading every unique index.
{{end}}
`))

// File is one migration on disk, identified by its up script.
type File struct {
	Version uint
	Name    string
}

// Base is the file name shared by the up and down scripts.
func (f File) Base() string {
	return fmt.Sprintf("%d_%s", f.Version, f.Name)
}

// Pair is a freshly scaffolded up/down script pair.
type Pair struct {
	File
	UpPath   string
	DownPath string
}

// Create writes an empty up/down pair for name, versioned by now. Existing
// files are never overwritten.
func Create(dir, name, description string, now time.Time) (*Pair, error) {
	slug := slugify(name)
	if slug == "" {
		return nil, errors.New("migration name must contain letters or digits")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	version, err := strconv.ParseUint(now.Format(versionLayout), 10, 64)
	if err != nil {
		return nil, err
	}
	p := &Pair{File: File{Version: uint(version), Name: slug}}
	p.UpPath = filepath.Join(dir, p.Base()+".up.sql")
	p.DownPath = filepath.Join(dir, p.Base()+".down.sql")

	data := struct {
		Name, Description, Created string
		Down                       bool
	}{Name: name, Description: description, Created: now.Format(time.RFC3339)}

	if err := writeNew(p.UpPath, data); err != nil {
		return nil, err
	}
	data.Down = true
	if err := writeNew(p.DownPath, data); err != nil {
		_ = os.Remove(p.UpPath)
		return nil, err
	}
	return p, nil
}

func writeNew(path string, data any) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return errors.Join(scaffold.Execute(f, data), f.Close())
}

// slugify lowercases name and joins its letter/digit runs with underscores.
func slugify(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
	})
	return strings.Join(words, "_")
}

// List returns the migrations in dir ordered by version. A missing directory
// holds no migrations; an up script without a numeric version is an error.
func List(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []File
	for _, entry := range entries {
		base, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if entry.IsDir() || !ok {
			continue
		}
		prefix, name, _ := strings.Cut(base, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q has no numeric version", entry.Name())
		}
		files = append(files, File{Version: uint(version), Name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// LatestVersion is the highest version in dir, 0 when there is none.
func LatestVersion(dir string) (uint, error) {
	files, err := List(dir)
	if err != nil || len(files) == 0 {
		return 0, err
	}
	return files[len(files)-1].Version, nil
}
