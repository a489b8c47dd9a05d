package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/scraperwall/ipwatch/data"
	log "github.com/sirupsen/logrus"
)

// FileStore keeps all visits in a single JSON document of the form
// {"<ip>": {"count": <n>}}
type FileStore struct {
	path   string
	visits map[string]data.Visit
	mutex  sync.Mutex
}

// NewFileStore loads the visits from path. A missing file results in an empty store
// that gets created on the first write; a malformed file is an error
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:   path,
		visits: make(map[string]data.Visit),
	}

	content, err := ioutil.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Infof("%s doesn't exist yet, starting with an empty visit cache", path)
		return fs, nil
	}
	if err != nil {
		return nil, err
	}

	if len(content) == 0 {
		return fs, nil
	}

	if err := json.Unmarshal(content, &fs.visits); err != nil {
		return nil, fmt.Errorf("%s is not a valid visit cache: %w", path, err)
	}
	if fs.visits == nil {
		fs.visits = make(map[string]data.Visit)
	}

	return fs, nil
}

// Get returns a copy of all visits
func (fs *FileStore) Get() (map[string]data.Visit, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	res := make(map[string]data.Visit, len(fs.visits))
	for ip, v := range fs.visits {
		res[ip] = v
	}

	return res, nil
}

// Increment adds one visit for ip, writes the whole document and returns the new count.
// The in-memory count is only changed when the write succeeded
func (fs *FileStore) Increment(ip string) (int, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	v := fs.visits[ip]
	v.Count++
	fs.visits[ip] = v

	if err := fs.write(); err != nil {
		v.Count--
		if v.Count == 0 {
			delete(fs.visits, ip)
		} else {
			fs.visits[ip] = v
		}
		return 0, err
	}

	return v.Count, nil
}

// Count returns the number of IPs in the store
func (fs *FileStore) Count() (int, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	return len(fs.visits), nil
}

// Close is a no-op, every increment is written right away
func (fs *FileStore) Close() error {
	return nil
}

// write replaces the document atomically. fs.mutex must be held
func (fs *FileStore) write() error {
	content, err := json.Marshal(fs.visits)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fs.path)
	tmp, err := ioutil.TempFile(dir, filepath.Base(fs.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), fs.path)
}
