package main

import (
	"context"
	"os"
	"time"

	"github.com/fvbock/endless"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/namsral/flag"
	"github.com/scraperwall/ipwatch"
	"github.com/scraperwall/ipwatch/config"
	"github.com/scraperwall/ipwatch/store"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using the process environment")
	}

	cfg := config.Config{}

	flag.String(flag.DefaultConfigFlagname, "", "path to a config file")
	flag.StringVar(&cfg.WebhookURL, "discord-webhook-url", "", "the webhook notifications are posted to")
	flag.StringVar(&cfg.APIKey, "abuse-ip-db-api-key", "", "the AbuseIPDB API key")
	flag.StringVar(&cfg.APIBase, "abuse-ip-db-api-base", config.DefaultAPIBase, "the AbuseIPDB API base URL")
	flag.IntVar(&cfg.MaxAgeInDays, "max-age-in-days", 0, "only consider reports of the last n days (0: API default)")
	flag.StringVar(&cfg.Listen, "listen", ":80", "the address the web server listens on")
	flag.StringVar(&cfg.IPHeader, "ip-header", config.DefaultIPHeader, "the header containing the client IP")
	flag.StringVar(&cfg.StoreBackend, "store", "file", "the visit store backend: file, badger or redis")
	flag.StringVar(&cfg.CacheFile, "cache-file", config.DefaultCacheFile, "the JSON visit cache of the file store")
	flag.StringVar(&cfg.BadgerPath, "badger-path", "./badger", "the directory where the badger database resides")
	flag.StringVar(&cfg.RedisURL, "redis-url", "redis://localhost:6379", "the redis server of the redis store")
	flag.StringVar(&cfg.RedisKey, "redis-key", config.DefaultRedisKey, "the redis hash of the redis store")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", config.DefaultRequestTimeout, "timeout of a single background check")
	flag.DurationVar(&cfg.ReputationTTL, "reputation-ttl", 0, "cache reputation lookups this long (0: no cache)")
	flag.StringVar(&cfg.DNSServer, "dns-server", "", "resolve reverse hostnames with this DNS server, e.g. 8.8.8.8:53")
	flag.DurationVar(&cfg.ResolverTTL, "resolver-ttl", 24*time.Hour, "cache reverse hostnames this long")
	flag.StringVar(&cfg.IgnoreTOML, "ignore-toml", "", "TOML file with requests that should be ignored")
	flag.StringVar(&cfg.ThumbnailURL, "thumbnail-url", config.DefaultThumbnailURL, "the thumbnail of every notification")
	flag.StringVar(&cfg.FooterText, "footer-text", "", "the footer of every notification (default: Source • https://<host>)")
	flag.StringVar(&cfg.AdminPrefix, "admin-prefix", "/_ipwatch", "mount the visit API here (empty: disabled)")
	flag.DurationVar(&cfg.StatsInterval, "stats-interval", 10*time.Minute, "log visit statistics this often (0: never)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "the log level")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "the log format: text or json")

	flag.Parse()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if level < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		log.Error(err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	visits, err := store.Open(ctx, &cfg)
	if err != nil {
		log.Fatalf("failed to open the %s visit store: %s", cfg.StoreBackend, err)
	}

	resources, err := ipwatch.NewResources(ctx, &cfg, visits)
	if err != nil {
		visits.Close()
		log.Fatal(err)
	}

	w := ipwatch.New(ctx, &cfg, resources)
	router := ipwatch.NewRouter(w, cfg.AdminPrefix)

	log.Infof("listening on %s", cfg.Listen)
	if err := endless.ListenAndServe(cfg.Listen, router); err != nil {
		log.Error(err)
	}

	log.Println("exiting...")

	// in-flight checks still need the store, so drain them before cancelling
	if err := w.Close(); err != nil {
		log.Errorf("failed to close the visit store: %s", err)
	}
	cancel()
}
