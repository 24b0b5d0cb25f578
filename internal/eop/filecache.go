package eop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoCachedFile is returned by LoadLatest when the cache is empty.
var ErrNoCachedFile = errors.New("no cached EOP file")

const (
	cachePrefix = "eop_"
	cacheSuffix = ".txt"
)

// FileCache keeps downloaded EOP files on disk so a restart can come up
// without the network.
type FileCache struct {
	dir      string
	maxFiles int
}

// NewFileCache creates a FileCache that stores files in dir and keeps at most
// maxFiles.
func NewFileCache(dir string, maxFiles int) *FileCache {
	if maxFiles <= 0 {
		maxFiles = 3
	}
	return &FileCache{
		dir:      dir,
		maxFiles: maxFiles,
	}
}

// Write saves data to a timestamped file and prunes old files beyond maxFiles.
// It returns the path written.
func (c *FileCache) Write(data []byte, ts time.Time) (string, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	path := filepath.Join(c.dir, fmt.Sprintf("%s%d%s", cachePrefix, ts.Unix(), cacheSuffix))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing cache file: %w", err)
	}

	return path, c.prune()
}

// LatestPath returns the newest cached file and its timestamp.
func (c *FileCache) LatestPath() (string, time.Time, error) {
	files, err := c.listFiles()
	if err != nil {
		return "", time.Time{}, err
	}
	if len(files) == 0 {
		return "", time.Time{}, ErrNoCachedFile
	}

	latest := files[len(files)-1]
	return filepath.Join(c.dir, latest.name), latest.ts, nil
}

// LoadLatest reads the newest cached file.
func (c *FileCache) LoadLatest() ([]byte, time.Time, error) {
	path, ts, err := c.LatestPath()
	if err != nil {
		return nil, time.Time{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return data, ts, nil
}

type cacheFile struct {
	name string
	ts   time.Time
}

// listFiles returns cache files oldest first.
func (c *FileCache) listFiles() ([]cacheFile, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var files []cacheFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, cachePrefix) || !strings.HasSuffix(name, cacheSuffix) {
			continue
		}
		unix, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, cachePrefix), cacheSuffix), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, cacheFile{name: name, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})
	return files, nil
}

func (c *FileCache) prune() error {
	files, err := c.listFiles()
	if err != nil {
		return err
	}
	if len(files) <= c.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-c.maxFiles] {
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", f.name, err)
		}
	}
	return nil
}
