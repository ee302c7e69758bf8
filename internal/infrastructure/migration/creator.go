package migration

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode"
)

// versionWidth is the zero-padded width of sequential migration versions
const versionWidth = 6

var header = template.Must(template.New("header").Parse(`-- Migration: {{.Title}}{{if eq .Direction "down"}} (rollback){{end}}
-- Created: {{.Created}}
{{- with .Description}}
-- Description: {{.}}{{end}}

`))

// Migration identifies one up/down file pair by version and name
type Migration struct {
	Version uint
	Name    string
}

// String returns the base file name, e.g. 000001_create_user_directory
func (m Migration) String() string {
	return fmt.Sprintf("%0*d_%s", versionWidth, m.Version, m.Name)
}

// CreatedMigration is a file pair written by CreateMigration
type CreatedMigration struct {
	Migration
	UpPath   string
	DownPath string
}

// CreateMigration writes the next sequentially numbered up/down pair into
// dir, creating dir if needed. title is slugged into the file name.
func CreateMigration(dir, title, description string) (*CreatedMigration, error) {
	name := slug(title)
	if name == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", title)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	existing, err := ListMigrations(os.DirFS(dir))
	if err != nil {
		return nil, err
	}
	var version uint = 1
	if n := len(existing); n > 0 {
		version = existing[n-1].Version + 1
	}

	created := &CreatedMigration{Migration: Migration{Version: version, Name: name}}
	created.UpPath = filepath.Join(dir, created.String()+".up.sql")
	created.DownPath = filepath.Join(dir, created.String()+".down.sql")

	data := map[string]string{
		"Title":       title,
		"Description": description,
		"Created":     time.Now().Format(time.RFC3339),
	}
	if err := writeHeader(created.UpPath, "up", data); err != nil {
		return nil, err
	}
	if err := writeHeader(created.DownPath, "down", data); err != nil {
		_ = os.Remove(created.UpPath)
		return nil, err
	}
	return created, nil
}

func writeHeader(path, direction string, data map[string]string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	data["Direction"] = direction
	if err := header.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// slug lower-cases title and joins its letter and digit runs with '_'
func slug(title string) string {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	return strings.Join(words, "_")
}

// ListMigrations returns the migrations in files ordered by version. Only
// .up.sql files with a numeric version prefix count; a missing directory
// has none.
func ListMigrations(files fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		base, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if entry.IsDir() || !ok {
			continue
		}
		prefix, name, _ := strings.Cut(base, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		migrations = append(migrations, Migration{Version: uint(version), Name: name})
	}

	slices.SortFunc(migrations, func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return migrations, nil
}
