package store

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
)

func TestFileStoreIncrement(t *testing.T) {
	dir, err := ioutil.TempDir("", "ipwatch-filestore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "ipCache.json")

	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to open a store without a file: %s", err)
	}

	count, err := fs.Increment("1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("the first visit should be counted as 1 but is %d", count)
	}

	content, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != `{"1.2.3.4":{"count":1}}` {
		t.Errorf("unexpected cache file content: %s", content)
	}

	for i := 2; i <= 5; i++ {
		count, err = fs.Increment("1.2.3.4")
		if err != nil {
			t.Fatal(err)
		}
		if count != i {
			t.Errorf("visit #%d was counted as %d", i, count)
		}
	}

	// a second store must pick up the persisted state
	fs2, err := NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	visits, err := fs2.Get()
	if err != nil {
		t.Fatal(err)
	}
	if visits["1.2.3.4"].Count != 5 {
		t.Errorf("reloaded count should be 5 but is %d", visits["1.2.3.4"].Count)
	}
}

func TestFileStoreConcurrentIncrements(t *testing.T) {
	dir, err := ioutil.TempDir("", "ipwatch-filestore")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	fs, err := NewFileStore(filepath.Join(dir, "ipCache.json"))
	if err != nil {
		t.Fatal(err)
	}

	ips := make([]string, 5)
	for i := range ips {
		ips[i] = gofakeit.IPv4Address()
	}

	var wg sync.WaitGroup
	for _, ip := range ips {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(ip string) {
				defer wg.Done()
				if _, err := fs.Increment(ip); err != nil {
					t.Error(err)
				}
			}(ip)
		}
	}
	wg.Wait()

	visits, _ := fs.Get()
	for _, ip := range ips {
		// gofakeit may generate the same IP twice
		want := 0
		for _, other := range ips {
			if other == ip {
				want += 20
			}
		}
		if visits[ip].Count != want {
			t.Errorf("%s has %d visits but should have %d", ip, visits[ip].Count, want)
		}
	}
}

func TestFileStoreMalformed(t *testing.T) {
	fh, err := ioutil.TempFile("", "ipwatch-cache")
	if err != nil {
		t.Fatal(err)
	}
	fh.WriteString(`{"1.2.3.4": {"count": `)
	fh.Close()
	defer os.Remove(fh.Name())

	if _, err := NewFileStore(fh.Name()); err == nil {
		t.Error("a malformed cache file must not be accepted")
	}
}

func TestFileStoreEmptyFile(t *testing.T) {
	fh, err := ioutil.TempFile("", "ipwatch-cache")
	if err != nil {
		t.Fatal(err)
	}
	fh.Close()
	defer os.Remove(fh.Name())

	fs, err := NewFileStore(fh.Name())
	if err != nil {
		t.Fatalf("an empty cache file should be accepted: %s", err)
	}
	if n, _ := fs.Count(); n != 0 {
		t.Errorf("an empty store should have 0 entries but has %d", n)
	}
}
