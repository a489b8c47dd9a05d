package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/namsral/flag"
	"github.com/scraperwall/ipwatch/config"
	"github.com/scraperwall/ipwatch/store"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Config{}

	flag.StringVar(&cfg.StoreBackend, "store", "file", "the visit store backend: file, badger or redis")
	flag.StringVar(&cfg.CacheFile, "cache-file", config.DefaultCacheFile, "the JSON visit cache of the file store")
	flag.StringVar(&cfg.BadgerPath, "badger-path", "./badger", "badger db dir")
	flag.StringVar(&cfg.RedisURL, "redis-url", "redis://localhost:6379", "the redis server of the redis store")
	flag.StringVar(&cfg.RedisKey, "redis-key", config.DefaultRedisKey, "the redis hash of the redis store")
	prefix := flag.String("prefix", "", "return all IPs with this prefix")

	flag.Parse()

	vs, err := store.Open(context.Background(), &cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer vs.Close()

	visits, err := vs.Get()
	if err != nil {
		log.Fatal(err)
	}

	ips := make([]string, 0, len(visits))
	for ip := range visits {
		if strings.HasPrefix(ip, *prefix) {
			ips = append(ips, ip)
		}
	}
	sort.Strings(ips)

	for _, ip := range ips {
		fmt.Printf("%s %d\n", ip, visits[ip].Count)
	}
}
