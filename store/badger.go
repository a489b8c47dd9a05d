package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/scraperwall/ipwatch/data"
	log "github.com/sirupsen/logrus"
)

const (
	// Default BadgerDB discardRatio. It represents the discard ratio for the
	// BadgerDB GC.
	//
	// Ref: https://godoc.org/github.com/dgraph-io/badger#DB.RunValueLogGC
	badgerDiscardRatio = 0.5

	// Default BadgerDB GC interval
	badgerGCInterval = 10 * time.Minute

	// conflicting increments are retried this many times
	badgerMaxRetries = 10
)

// visitNamespace prefixes all visit keys
var visitNamespace = []byte("visits")

// BadgerStore is a VisitStore backed by an embedded BadgerDB
type BadgerStore struct {
	db     *badger.DB
	mutex  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBadgerStore opens (or creates) the BadgerDB in dataDir. If the database
// cannot be initialized, an error will be returned.
func NewBadgerStore(ctx context.Context, dataDir string) (*BadgerStore, error) {
	if dataDir == "" {
		return nil, errors.New("the badger path is empty")
	}

	opts := badger.DefaultOptions(dataDir)
	opts.SyncWrites = true
	opts.Dir, opts.ValueDir = dataDir, dataDir
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	bs := &BadgerStore{
		db:     db,
		ctx:    ctx,
		cancel: cancel,
	}

	go bs.runGC()
	return bs, nil
}

// Get returns all visits in the store
func (bs *BadgerStore) Get() (map[string]data.Visit, error) {
	res := make(map[string]data.Visit)
	prefix := bs.namespaceKey("")

	err := bs.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			ip := strings.TrimPrefix(string(item.Key()), string(prefix))
			err := item.Value(func(v []byte) error {
				var visit data.Visit
				if err := json.Unmarshal(v, &visit); err != nil {
					return fmt.Errorf("visit record for %s: %w", ip, err)
				}
				res[ip] = visit
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return res, nil
}

// Increment adds one visit for ip inside a transaction. Increments are serialized
// within the process; transactions that still conflict are retried
func (bs *BadgerStore) Increment(ip string) (int, error) {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	var count int
	var err error

	for i := 0; i < badgerMaxRetries; i++ {
		err = bs.db.Update(func(txn *badger.Txn) error {
			key := bs.namespaceKey(ip)

			var visit data.Visit
			item, err := txn.Get(key)
			switch err {
			case nil:
				err = item.Value(func(v []byte) error {
					return json.Unmarshal(v, &visit)
				})
				if err != nil {
					return err
				}
			case badger.ErrKeyNotFound:
			default:
				return err
			}

			visit.Count++
			value, err := json.Marshal(visit)
			if err != nil {
				return err
			}

			count = visit.Count
			return txn.Set(key, value)
		})

		if err != badger.ErrConflict {
			break
		}
		log.Tracef("badger conflict while incrementing %s, retrying", ip)
	}

	if err != nil {
		return 0, err
	}
	return count, nil
}

// Count returns the number of IPs in the store
func (bs *BadgerStore) Count() (int, error) {
	c := 0
	prefix := bs.namespaceKey("")

	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			c++
		}
		return nil
	})

	return c, err
}

// Close stops the GC and closes the underlying BadgerDB
func (bs *BadgerStore) Close() error {
	bs.cancel()
	return bs.db.Close()
}

// runGC triggers the garbage collection for the BadgerDB backend database. It
// should be run in a goroutine.
func (bs *BadgerStore) runGC() {
	ticker := time.NewTicker(badgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := bs.db.RunValueLogGC(badgerDiscardRatio)
			if err != nil {
				// don't report error when GC didn't result in any cleanup
				if err == badger.ErrNoRewrite {
					log.Debugf("no BadgerDB GC occurred: %v", err)
				} else {
					log.Errorf("failed to GC BadgerDB: %v", err)
				}
			}

		case <-bs.ctx.Done():
			return
		}
	}
}

// namespaceKey returns the composite key for an IP
func (bs *BadgerStore) namespaceKey(ip string) []byte {
	return []byte(fmt.Sprintf("%s/%s", visitNamespace, ip))
}
