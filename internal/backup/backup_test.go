package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func newDB(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memories.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`CREATE TABLE memories (id TEXT PRIMARY KEY, content TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < rows; i++ {
		if _, err := db.Exec(`INSERT INTO memories VALUES (?, ?)`, fmt.Sprintf("m%d", i), "x"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return path
}

func countRows(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func newService(t *testing.T, dbPath string) *Service {
	t.Helper()
	s, err := NewService(Config{
		DBPath: dbPath,
		Dir:    filepath.Join(t.TempDir(), "backups"),
		Logger: log.New(&bytes.Buffer{}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(Config{Dir: t.TempDir()}); err == nil {
		t.Error("expected error without database path")
	}
	if _, err := NewService(Config{DBPath: "x.db"}); err == nil {
		t.Error("expected error without backup directory")
	}

	s, err := NewService(Config{DBPath: "x.db", Dir: filepath.Join(t.TempDir(), "nested", "dir")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
	if s.retention != DefaultRetention() {
		t.Errorf("retention = %+v, want defaults", s.retention)
	}
	if !s.verify {
		t.Error("verification should be on by default")
	}
}

func TestBackupNow_CreatesVerifiedCopy(t *testing.T) {
	dbPath := newDB(t, 3)
	s := newService(t, dbPath)

	res, err := s.BackupNow(context.Background())
	if err != nil {
		t.Fatalf("BackupNow: %v", err)
	}
	if !res.Verified {
		t.Error("backup should be verified")
	}
	if res.Size == 0 {
		t.Error("backup size should be non-zero")
	}
	if got := countRows(t, res.Path); got != 3 {
		t.Errorf("backup rows = %d, want 3", got)
	}
	if s.LastBackup().IsZero() {
		t.Error("LastBackup should be set")
	}

	backups, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(backups) != 1 || backups[0].Path != res.Path {
		t.Errorf("List = %+v, want the new backup", backups)
	}
}

func TestBackupNow_MissingDatabase(t *testing.T) {
	s := newService(t, filepath.Join(t.TempDir(), "absent.db"))
	if _, err := s.BackupNow(context.Background()); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestRestore_ReplacesDatabase(t *testing.T) {
	dbPath := newDB(t, 2)
	s := newService(t, dbPath)

	res, err := s.BackupNow(context.Background())
	if err != nil {
		t.Fatalf("BackupNow: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO memories VALUES ('late', 'y')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = db.Close()
	if got := countRows(t, dbPath); got != 3 {
		t.Fatalf("rows before restore = %d, want 3", got)
	}

	if err := s.Restore(context.Background(), res.Path); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := countRows(t, dbPath); got != 2 {
		t.Errorf("rows after restore = %d, want 2", got)
	}
	if _, err := os.Stat(dbPath + ".pre-restore"); !os.IsNotExist(err) {
		t.Error("rollback copy should be removed")
	}
}

func TestRestore_CorruptBackupRollsBack(t *testing.T) {
	dbPath := newDB(t, 2)
	s := newService(t, dbPath)

	bad := filepath.Join(t.TempDir(), fileName(time.Now()))
	if err := os.WriteFile(bad, []byte("not a database"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := s.Restore(context.Background(), bad); err == nil {
		t.Fatal("expected restore of a corrupt backup to fail")
	}
	if got := countRows(t, dbPath); got != 2 {
		t.Errorf("rows after failed restore = %d, want 2", got)
	}
}

func TestRestore_MissingBackup(t *testing.T) {
	s := newService(t, newDB(t, 1))
	if err := s.Restore(context.Background(), "/nonexistent/backup.db"); err == nil {
		t.Fatal("expected error for missing backup")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := newService(t, newDB(t, 1))
	s.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.LastBackup().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.LastBackup().IsZero() {
		t.Fatal("scheduled backup never ran")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestParseFileName(t *testing.T) {
	at := time.Date(2024, 3, 5, 10, 20, 30, 123456000, time.UTC)
	got, ok := parseFileName(fileName(at))
	if !ok || !got.Equal(at) {
		t.Errorf("round trip = %v %v, want %v", got, ok, at)
	}

	for _, name := range []string{"readme.txt", "memorycore-garbage.db", "backup.db", "memorycore-20240305-102030.000000.json"} {
		if _, ok := parseFileName(name); ok {
			t.Errorf("parseFileName(%q) should be rejected", name)
		}
	}
}

func TestList_IgnoresForeignFilesAndDirs(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for _, name := range []string{"readme.txt", "backup.db", fileName(now.Add(-time.Hour)), fileName(now)} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"+fileSuffix), 0o700); err != nil {
		t.Fatal(err)
	}

	backups, err := list(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("got %d backups, want 2", len(backups))
	}
	if !backups[0].Timestamp.After(backups[1].Timestamp) {
		t.Error("backups should be sorted newest first")
	}

	if _, err := list("/nonexistent/backup/dir"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestExpired_Tiers(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	hour, day := time.Hour, 24*time.Hour
	ages := []time.Duration{
		1 * hour, 2 * hour, 3 * hour,
		2 * day, 3 * day,
		10 * day,
		60 * day,
		400 * day,
	}
	var backups []Info
	for _, age := range ages {
		backups = append(backups, Info{Path: age.String(), Timestamp: now.Add(-age)})
	}

	drop := expired(backups, RetentionPolicy{Hourly: 2, Daily: 1, Weekly: 1, Monthly: 1}, now)
	want := []string{(3 * hour).String(), (3 * day).String(), (400 * day).String()}
	if len(drop) != len(want) {
		t.Fatalf("dropped %v, want %v", drop, want)
	}
	for i := range want {
		if drop[i] != want[i] {
			t.Errorf("drop[%d] = %s, want %s", i, drop[i], want[i])
		}
	}
}

func TestPrune_RemovesFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i := 0; i < 4; i++ {
		name := fileName(now.Add(-time.Duration(i) * time.Minute))
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := prune(dir, RetentionPolicy{Hourly: 1, Daily: 1, Weekly: 1, Monthly: 1}, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("removed %d, want 3", len(removed))
	}
	left, _ := list(dir)
	if len(left) != 1 {
		t.Errorf("%d backups left, want 1", len(left))
	}
}
