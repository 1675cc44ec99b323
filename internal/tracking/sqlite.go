package tracking

import (
	"database/sql"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"k8s.io/klog/v2"
	_ "modernc.org/sqlite"
)

// Options describes a new run.
type Options struct {
	Project string
	Tags    []string
}

// Run is a run persisted in a SQLite database. Several runs may share one
// database file.
type Run struct {
	ID      string
	Project string
	Tags    []string

	mu sync.Mutex
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs(
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		tags TEXT NOT NULL,
		created_at REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metrics(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		step INTEGER NOT NULL,
		value REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS images(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		name TEXT,
		description TEXT,
		png BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS files(
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		name TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY(run_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS fields(
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY(run_id, key)
	)`,
}

// Open creates a new run in the database at path.
func Open(path string, opts Options) (*Run, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init run store: %w", err)
		}
	}

	r := &Run{
		ID:      uuid.NewString(),
		Project: opts.Project,
		Tags:    append([]string(nil), opts.Tags...),
		db:      db,
	}
	_, err = db.Exec(`INSERT INTO runs(id, project, tags, created_at) VALUES(?, ?, ?, ?)`,
		r.ID, r.Project, strings.Join(r.Tags, ","), float64(time.Now().UnixNano())/1e9)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create run: %w", err)
	}

	sys := map[string]string{
		"sys/tags":          strings.Join(r.Tags, ","),
		"sys/cpu":           cpuid.CPU.BrandName,
		"sys/logical_cores": fmt.Sprint(cpuid.CPU.LogicalCores),
	}
	for k, v := range sys {
		if err := r.Set(k, v); err != nil {
			db.Close()
			return nil, err
		}
	}
	klog.Infof("tracking run=%s project=%s store=%s", r.ID, r.Project, path)
	return r, nil
}

// Close releases the database.
func (r *Run) Close() error {
	return r.db.Close()
}

func (r *Run) LogMetric(key string, value float64, step int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT INTO metrics(run_id, key, step, value) VALUES(?, ?, ?, ?)`, r.ID, key, step, value)
	if err != nil {
		return fmt.Errorf("log metric %s: %w", key, err)
	}
	return nil
}

func (r *Run) LogImage(key string, img image.Image, name, description string) error {
	data, err := encodePNG(img)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.db.Exec(`INSERT INTO images(run_id, key, name, description, png) VALUES(?, ?, ?, ?, ?)`,
		r.ID, key, name, description, data)
	if err != nil {
		return fmt.Errorf("log image %s: %w", key, err)
	}
	return nil
}

func (r *Run) UploadImage(key string, img image.Image) error {
	data, err := encodePNG(img)
	if err != nil {
		return err
	}
	return r.putFile(key, key+".png", data)
}

func (r *Run) UploadFile(key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return r.putFile(key, filepath.Base(path), data)
}

func (r *Run) putFile(key, name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT OR REPLACE INTO files(run_id, key, name, data) VALUES(?, ?, ?, ?)`, r.ID, key, name, data)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (r *Run) Set(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`INSERT OR REPLACE INTO fields(run_id, key, value) VALUES(?, ?, ?)`, r.ID, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Metric reads back the series key in insertion order.
func (r *Run) Metric(key string) ([]Point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.db.Query(`SELECT step, value FROM metrics WHERE run_id = ? AND key = ? ORDER BY id`, r.ID, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Step, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ImageCount returns how many images the series key holds.
func (r *Run) ImageCount(key string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM images WHERE run_id = ? AND key = ?`, r.ID, key).Scan(&n)
	return n, err
}

// Field reads back a single text value.
func (r *Run) Field(key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var v string
	err := r.db.QueryRow(`SELECT value FROM fields WHERE run_id = ? AND key = ?`, r.ID, key).Scan(&v)
	return v, err
}

// File reads back an uploaded file.
func (r *Run) File(key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var data []byte
	err := r.db.QueryRow(`SELECT data FROM files WHERE run_id = ? AND key = ?`, r.ID, key).Scan(&data)
	return data, err
}
