// Package ledger tracks which input files have already been processed.
//
// The ledger is a newline-delimited list of file names. It only grows: a
// name is appended once every fatal stage for that file has succeeded.
package ledger

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

type Ledger struct {
	path string
}

func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Processed returns the set of recorded names. A missing ledger is the
// empty set.
func (l *Ledger) Processed() (map[string]struct{}, error) {
	processed := make(map[string]struct{})

	file, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return processed, nil
	} else if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		processed[name] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return processed, nil
}

// Append records names, one per line.
func (l *Ledger) Append(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}
	if _, err := file.WriteString(b.String()); err != nil {
		file.Close()
		return fmt.Errorf("appending to ledger: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing ledger: %w", err)
	}
	return file.Close()
}

// NewFiles lists the regular files in inputDir that are not in processed,
// sorted by name. Hidden files are skipped.
func NewFiles(inputDir string, processed map[string]struct{}) ([]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, fmt.Errorf("listing input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !e.Type().IsRegular() {
			continue
		}
		if _, ok := processed[name]; ok {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// Fingerprint returns the hex xxh3 hash of the file's content.
func Fingerprint(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
