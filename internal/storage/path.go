package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._=-]{0,127}$`)

// ValidateDatasetKey checks that key is a relative slash-separated parquet
// object key without traversal components.
func ValidateDatasetKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("dataset key is required")
	}
	if !strings.HasSuffix(key, ".parquet") {
		return fmt.Errorf("dataset key %q must end in .parquet", key)
	}
	for _, component := range strings.Split(key, "/") {
		if !keyComponentPattern.MatchString(component) {
			return fmt.Errorf("invalid dataset key component %q in %q", component, key)
		}
	}
	return nil
}

// SnapshotKey places a dated copy of key next to it:
// datasets/orders/orders.parquet becomes
// datasets/orders/snapshots/date=2026-02-19/orders-090500.parquet.
func SnapshotKey(key string, at time.Time) (string, error) {
	if err := ValidateDatasetKey(key); err != nil {
		return "", err
	}
	ts := at.UTC()
	dir, file := path.Split(key)
	base := strings.TrimSuffix(file, ".parquet")
	return path.Join(
		dir,
		"snapshots",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s-%02d%02d%02d.parquet", base, ts.Hour(), ts.Minute(), ts.Second()),
	), nil
}
