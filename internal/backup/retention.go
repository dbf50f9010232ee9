package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "memorycore-"
	fileSuffix = ".db"
	timeLayout = "20060102-150405.000000"
)

func fileName(at time.Time) string {
	return filePrefix + at.UTC().Format(timeLayout) + fileSuffix
}

// parseFileName extracts the backup time encoded in name.
func parseFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	at, err := time.ParseInLocation(timeLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// list returns the backups in dir, newest first. Files that do not follow
// the backup naming scheme are ignored.
func list(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		at, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: at,
			Size:      fi.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// expired picks the backups the policy drops at now. backups must be sorted
// newest first.
func expired(backups []Info, policy RetentionPolicy, now time.Time) []string {
	var drop []string
	kept := map[int]int{}
	limits := []int{policy.Hourly, policy.Daily, policy.Weekly, policy.Monthly}

	for _, b := range backups {
		tier := tierOf(now.Sub(b.Timestamp))
		if tier < 0 || kept[tier] >= limits[tier] {
			drop = append(drop, b.Path)
			continue
		}
		kept[tier]++
	}
	return drop
}

func tierOf(age time.Duration) int {
	const day = 24 * time.Hour
	switch {
	case age < day:
		return 0
	case age < 7*day:
		return 1
	case age < 30*day:
		return 2
	case age < 365*day:
		return 3
	default:
		return -1
	}
}

// prune removes the backups in dir that policy does not keep.
func prune(dir string, policy RetentionPolicy, now time.Time) ([]string, error) {
	backups, err := list(dir)
	if err != nil {
		return nil, err
	}

	var removed []string
	var lastErr error
	for _, path := range expired(backups, policy, now) {
		if err := os.Remove(path); err != nil {
			lastErr = err
			continue
		}
		removed = append(removed, path)
	}
	if lastErr != nil {
		return removed, fmt.Errorf("failed to delete some backups: %w", lastErr)
	}
	return removed, nil
}
