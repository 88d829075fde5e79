// Package attachments stores user-uploaded CSV files that scripts read
// through env.attachments.
package attachments

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

const manifestSuffix = ".manifest.json"

// MaxSize is the largest attachment accepted.
const MaxSize = 16 << 20

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._ -]{0,127}$`)

// Manifest describes a stored CSV.
type Manifest struct {
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
	Columns   []string  `json:"columns"`
	RowCount  int       `json:"row_count"`
}

// Store keeps CSV files and their manifests in one directory.
type Store struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func validateName(name string) error {
	if !nameRe.MatchString(name) || strings.Contains(name, "..") || strings.HasSuffix(name, manifestSuffix) {
		return types.ValidationError(fmt.Sprintf("invalid attachment name: %q", name))
	}
	return nil
}

func (s *Store) dataPath(name string) string     { return filepath.Join(s.dir, name) }
func (s *Store) manifestPath(name string) string { return filepath.Join(s.dir, name+manifestSuffix) }

// Checksum is the 32-bit FNV-1a hash of data as eight hex digits.
func Checksum(data []byte) string {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%08x", h.Sum32())
}

// Save stores data under name, replacing any previous file.
func (s *Store) Save(name string, data []byte) (Manifest, error) {
	if err := validateName(name); err != nil {
		return Manifest{}, err
	}
	if len(data) > MaxSize {
		return Manifest{}, types.ValidationError(fmt.Sprintf("attachment %s exceeds %d bytes", name, MaxSize))
	}
	table, err := Parse(data)
	if err != nil {
		return Manifest{}, types.ValidationError(fmt.Sprintf("attachment %s: %v", name, err))
	}

	m := Manifest{
		Name:      name,
		Size:      len(data),
		CreatedAt: s.now().UTC(),
		Checksum:  Checksum(data),
		Columns:   table.Columns,
		RowCount:  len(table.Rows),
	}
	meta, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("attachments: marshal manifest: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.dataPath(name), data, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("attachments: write %s: %w", name, err)
	}
	if err := os.WriteFile(s.manifestPath(name), meta, 0o644); err != nil {
		_ = os.Remove(s.dataPath(name))
		return Manifest{}, fmt.Errorf("attachments: write manifest: %w", err)
	}
	return m, nil
}

// Get reads the manifest of name.
func (s *Store) Get(name string) (Manifest, error) {
	if err := validateName(name); err != nil {
		return Manifest{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readManifest(name)
}

func (s *Store) readManifest(name string) (Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, types.AttachmentMissing(name)
		}
		return Manifest{}, fmt.Errorf("attachments: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("attachments: unmarshal manifest: %w", err)
	}
	return m, nil
}

// List returns every manifest sorted by name.
func (s *Store) List() ([]Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+manifestSuffix))
	if err != nil {
		return nil, fmt.Errorf("attachments: glob: %w", err)
	}
	out := make([]Manifest, 0, len(matches))
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), manifestSuffix)
		m, err := s.readManifest(name)
		if err != nil {
			slog.Debug("attachment manifest skipped", "name", name, "error", err)
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Names lists stored attachment names in order.
func (s *Store) Names() ([]string, error) {
	ms, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out, nil
}

// Raw returns the stored bytes of name.
func (s *Store) Raw(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, types.AttachmentMissing(name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.dataPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.AttachmentMissing(name)
		}
		return nil, fmt.Errorf("attachments: read %s: %w", name, err)
	}
	return data, nil
}

// Table parses the stored CSV name.
func (s *Store) Table(name string) (types.Table, error) {
	data, err := s.Raw(name)
	if err != nil {
		return types.Table{}, err
	}
	return Parse(data)
}

// Delete removes name and its manifest.
func (s *Store) Delete(name string) error {
	if _, err := s.Get(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.dataPath(name)); err != nil && !os.IsNotExist(err) {
		slog.Debug("attachment data cleanup failed", "name", name, "error", err)
	}
	return os.Remove(s.manifestPath(name))
}

// Parse reads CSV bytes whose first row is the header. Short rows are padded
// with empty strings and blank lines are skipped.
func Parse(data []byte) (types.Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return types.Table{Columns: []string{}, Rows: []map[string]string{}}, nil
	}
	if err != nil {
		return types.Table{}, err
	}

	t := types.Table{Columns: header, Rows: []map[string]string{}}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Table{}, err
		}
		row := make(map[string]string, len(header))
		for j, col := range header {
			if j < len(rec) {
				row[col] = rec[j]
			} else {
				row[col] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
