// Package store keeps a SQLite history of analyzed builds.
//
// Each build is stored as its encoded report plus flattened bundle and edge
// rows, so history queries (dependents, worst edges) do not need to decode
// the report. Build ids are derived from the report header, which carries the
// digest of the body, so saving the same layout twice is a no-op whichever
// format it was encoded in.
package store

import (
	"bytes"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"bundlegraph/analyze"
	"bundlegraph/cas"
	"bundlegraph/layout"
	"bundlegraph/report"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrBuildNotFound   = errors.New("build not found")
	ErrAmbiguousPrefix = errors.New("ambiguous build id prefix")
)

// DB wraps a SQLite connection holding build history.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
	path string

	// Format is used by Save to encode layouts.
	Format report.Format
}

// Open opens or creates a history database at dbPath.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// foreign_keys is per connection
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: dbPath, Format: report.FormatBinary}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// ----- Builds -----

// BuildInfo is the stored metadata of one build.
type BuildInfo struct {
	ID              string        `json:"id" yaml:"id"`
	CreatedAt       int64         `json:"createdAt" yaml:"createdAt"`
	Target          string        `json:"target" yaml:"target"`
	StartedAt       time.Time     `json:"startedAt" yaml:"startedAt"`
	Duration        time.Duration `json:"duration" yaml:"duration"`
	SettingsVersion int           `json:"settingsVersion" yaml:"settingsVersion"`
	Strategy        string        `json:"strategy" yaml:"strategy"`
	BuildError      string        `json:"buildError,omitempty" yaml:"buildError,omitempty"`
	Counts          layout.Counts `json:"counts" yaml:"counts"`
}

const buildColumns = `id, ts, target, started_at, duration_ms, settings_version, strategy, build_error,
	bundle_count, file_count, explicit_count, other_count`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBuild(row scanner) (*BuildInfo, error) {
	var (
		info             BuildInfo
		startedMs, durMs int64
		bundles, files   int
		explicit, other  int
	)
	err := row.Scan(&info.ID, &info.CreatedAt, &info.Target, &startedMs, &durMs,
		&info.SettingsVersion, &info.Strategy, &info.BuildError,
		&bundles, &files, &explicit, &other)
	if err != nil {
		return nil, err
	}
	if startedMs != 0 {
		info.StartedAt = time.UnixMilli(startedMs).UTC()
	}
	info.Duration = time.Duration(durMs) * time.Millisecond
	info.Counts = layout.Counts{Bundles: bundles, Files: files, ExplicitAssets: explicit, OtherAssets: other}
	return &info, nil
}

// Save encodes l in db.Format and stores it. It implements the history
// collaborator of a build session.
func (db *DB) Save(l *layout.Layout) (string, error) {
	data, err := report.Encode(l, db.Format)
	if err != nil {
		return "", err
	}
	return db.SaveBuild(l, data)
}

// BuildID returns the id an encoded report is stored under.
func BuildID(encoded []byte) (string, error) {
	hdr, _, err := report.ReadHeader(bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("reading report header: %w", err)
	}
	return cas.RecordID("build", hdr)
}

// SaveBuild stores l with its encoded report. Uses INSERT OR IGNORE for
// idempotence: saving the same build again returns the existing id.
func (db *DB) SaveBuild(l *layout.Layout, encoded []byte) (string, error) {
	id, err := BuildID(encoded)
	if err != nil {
		return "", err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var started int64
	if !l.Header.BuildStartTime.IsZero() {
		started = l.Header.BuildStartTime.UnixMilli()
	}
	counts := l.Counts()
	result, err := tx.Exec(
		`INSERT OR IGNORE INTO builds (`+buildColumns+`, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, cas.NowMs(), l.Header.BuildTarget, started, l.Header.Duration.Milliseconds(),
		l.Header.SettingsVersion, l.Header.Strategy, l.Header.BuildError,
		counts.Bundles, counts.Files, counts.ExplicitAssets, counts.OtherAssets, encoded,
	)
	if err != nil {
		return "", fmt.Errorf("inserting build: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return id, nil
	}

	for _, row := range analyze.Summary(l) {
		_, err := tx.Exec(
			`INSERT INTO bundles (build_id, name, group_key, file_size, uncompressed_size, asset_count)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, string(row.Name), string(row.Group), int64(row.FileSize), int64(row.UncompressedSize), row.ExplicitAssets,
		)
		if err != nil {
			return "", fmt.Errorf("inserting bundle %s: %w", row.Name, err)
		}
	}
	for _, e := range analyze.Edges(l) {
		_, err := tx.Exec(
			`INSERT INTO bundle_edges (build_id, src, dst, asset_dependencies, referenced_size, efficiency, expanded_efficiency)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, string(e.From), string(e.To), e.AssetDependencies, int64(e.ReferencedSize), e.Efficiency, e.ExpandedEfficiency,
		)
		if err != nil {
			return "", fmt.Errorf("inserting edge %s -> %s: %w", e.From, e.To, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing build: %w", err)
	}
	return id, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ResolveID expands a unique id prefix to the full build id. The prefix is
// matched literally and must not be empty.
func (db *DB) ResolveID(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrBuildNotFound)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`SELECT id FROM builds WHERE id LIKE ? ESCAPE '\' LIMIT 2`,
		likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return "", fmt.Errorf("resolving build id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scanning build id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating build ids: %w", err)
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrBuildNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousPrefix, prefix)
	}
}

// GetBuild returns the metadata of the build with id or a unique id prefix.
func (db *DB) GetBuild(id string) (*BuildInfo, error) {
	full, err := db.ResolveID(id)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	info, err := scanBuild(db.conn.QueryRow(`SELECT `+buildColumns+` FROM builds WHERE id = ?`, full))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying build: %w", err)
	}
	return info, nil
}

// LatestForVersion returns the newest build made from settings version.
func (db *DB) LatestForVersion(version int) (*BuildInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	info, err := scanBuild(db.conn.QueryRow(
		`SELECT `+buildColumns+` FROM builds WHERE settings_version = ?
		 ORDER BY ts DESC, started_at DESC LIMIT 1`, version))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: settings version %d", ErrBuildNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest build: %w", err)
	}
	return info, nil
}

// ListBuilds returns up to limit builds, newest first. A non-positive limit
// returns all of them.
func (db *DB) ListBuilds(limit int) ([]*BuildInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := `SELECT ` + buildColumns + ` FROM builds ORDER BY ts DESC, started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var out []*BuildInfo
	for rows.Next() {
		info, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating builds: %w", err)
	}
	return out, nil
}

// LoadLayout decodes the stored report of a build.
func (db *DB) LoadLayout(id string) (*layout.Layout, error) {
	full, err := db.ResolveID(id)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	var blob []byte
	err = db.conn.QueryRow(`SELECT report FROM builds WHERE id = ?`, full).Scan(&blob)
	db.mu.RUnlock()
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying report: %w", err)
	}
	return report.Decode(blob)
}

// LoadLatest returns the newest layout built from settings version.
func (db *DB) LoadLatest(version int) (*layout.Layout, bool, error) {
	info, err := db.LatestForVersion(version)
	if errors.Is(err, ErrBuildNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	l, err := db.LoadLayout(info.ID)
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// ----- Bundles and edges -----

// EdgeInfo is one stored bundle dependency.
type EdgeInfo struct {
	From               string  `json:"from" yaml:"from"`
	To                 string  `json:"to" yaml:"to"`
	AssetDependencies  int     `json:"assetDependencies" yaml:"assetDependencies"`
	ReferencedSize     uint64  `json:"referencedSize" yaml:"referencedSize"`
	Efficiency         float64 `json:"efficiency" yaml:"efficiency"`
	ExpandedEfficiency float64 `json:"expandedEfficiency" yaml:"expandedEfficiency"`
}

// Dependents returns the bundles of a build that depend directly on bundle.
func (db *DB) Dependents(buildID, bundle string) ([]string, error) {
	full, err := db.ResolveID(buildID)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(
		`SELECT src FROM bundle_edges WHERE build_id = ? AND dst = ? ORDER BY src`, full, bundle)
	if err != nil {
		return nil, fmt.Errorf("querying dependents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("scanning dependent: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// WorstEdges returns up to limit edges of a build, least efficient first.
func (db *DB) WorstEdges(buildID string, limit int) ([]EdgeInfo, error) {
	full, err := db.ResolveID(buildID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(
		`SELECT src, dst, asset_dependencies, referenced_size, efficiency, expanded_efficiency
		 FROM bundle_edges WHERE build_id = ?
		 ORDER BY efficiency ASC, src ASC, dst ASC LIMIT ?`, full, limit)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var out []EdgeInfo
	for rows.Next() {
		var (
			e    EdgeInfo
			size int64
		)
		if err := rows.Scan(&e.From, &e.To, &e.AssetDependencies, &size, &e.Efficiency, &e.ExpandedEfficiency); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		e.ReferencedSize = uint64(size)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteBuild removes a build and its bundle rows.
func (db *DB) DeleteBuild(id string) error {
	full, err := db.ResolveID(id)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`DELETE FROM builds WHERE id = ?`, full); err != nil {
		return fmt.Errorf("deleting build: %w", err)
	}
	return nil
}
