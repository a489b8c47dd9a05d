package ipwatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/scraperwall/ipwatch/config"
	"github.com/scraperwall/ipwatch/data"
	log "github.com/sirupsen/logrus"
)

// IPWatch reports every visitor of a web server to a chat webhook
type IPWatch struct {
	config    *config.Config
	resources *Resources
	inflight  sync.WaitGroup

	ctx context.Context
}

// New creates a new IPWatch instance
func New(ctx context.Context, cfg *config.Config, resources *Resources) *IPWatch {
	w := &IPWatch{
		config:    cfg,
		resources: resources,
		ctx:       ctx,
	}

	if cfg.StatsInterval > 0 {
		go w.statsLogWorker(cfg.StatsInterval)
	}

	return w
}

// Middleware returns the gin middleware that observes every request.
// The request is handed on right away; the reputation check runs in the background
func (w *IPWatch) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// gin reuses its contexts, so everything has to be copied before c.Next
		req := &data.Request{
			IP:        RealIP(c, w.config.IPHeader),
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			Host:      c.Request.Host,
			UserAgent: c.Request.UserAgent(),
			Time:      time.Now(),
		}

		c.Next()

		if ignored, reason := w.resources.Ignorelist.IsIgnored(req); ignored {
			log.Tracef("%s %s from %s is ignored: %s", req.Method, req.Path, req.IP, reason)
			return
		}

		w.Go(req)
	}
}

// Go runs HandleRequest in a detached goroutine. A panic in the goroutine is logged
// and never takes down the server
func (w *IPWatch) Go(req *data.Request) {
	w.inflight.Add(1)

	go func() {
		defer w.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("panic while handling %s %s from %s: %v\n%s", req.Method, req.Path, req.IP, r, debug.Stack())
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), w.config.RequestTimeout)
		defer cancel()

		if err := w.HandleRequest(ctx, req); err != nil {
			var apiErr *data.APIError
			if errors.As(err, &apiErr) {
				log.Warnf("%d %s", apiErr.Status, apiErr.Detail)
			} else {
				log.Error(err)
			}
		}
	}()
}

// HandleRequest checks the reputation of the request's IP, counts the visit and sends
// the notification. It returns an error if no notification could be sent
func (w *IPWatch) HandleRequest(ctx context.Context, req *data.Request) error {
	if req.IP == "" {
		return errors.New("the request has no IP address")
	}

	log.Tracef("checking %s (%s %s)", req.IP, req.Method, req.Path)

	rep, err := w.resources.Reputation.Check(ctx, req.IP)
	if err != nil {
		return err
	}

	if rep.LastReportedAt != nil {
		log.Debugf("%s: score %s, last reported %s", req.IP, scoreString(rep.AbuseConfidenceScore), humanize.Time(*rep.LastReportedAt))
	}

	visits, err := w.resources.Store.Increment(req.IP)
	if err != nil {
		return fmt.Errorf("failed to count the visit of %s: %w", req.IP, err)
	}

	opts := EmbedOptions{
		ThumbnailURL: w.config.ThumbnailURL,
		FooterText:   w.config.FooterText,
	}

	if w.resources.Resolver != nil {
		hostname, err := w.resources.Resolver.Lookup(req.IP)
		if err != nil {
			log.Debugf("reverse lookup of %s failed: %s", req.IP, err)
		}
		opts.ReverseDNS = hostname
	}

	embed := FormatEmbed(rep, req, visits, opts)

	if err := w.resources.Notifier.Send(ctx, embed); err != nil {
		log.Warnf("notification for %s was not delivered: %s", req.IP, err)
		return nil
	}

	log.Debugf("notified %s (%d visits)", req.IP, visits)
	return nil
}

// Wait blocks until all background checks have finished
func (w *IPWatch) Wait() {
	w.inflight.Wait()
}

// Close waits for all background checks and releases all resources including the visit store
func (w *IPWatch) Close() error {
	w.Wait()
	w.resources.Close()
	return w.resources.Store.Close()
}

// Visits returns all visit records
func (w *IPWatch) Visits() (map[string]data.Visit, error) {
	return w.resources.Store.Get()
}

func (w *IPWatch) statsLogWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	log.Infof("starting statsLogWorker")
	for {
		select {
		case <-w.ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
			visits, err := w.resources.Store.Get()
			if err != nil {
				log.Errorf("stats: %s", err)
				continue
			}

			total := 0
			for _, v := range visits {
				total += v.Count
			}

			log.Infof("stats :: %s IPs / %s visits", humanize.Comma(int64(len(visits))), humanize.Comma(int64(total)))
		}
	}
}

func scoreString(score *int) string {
	if score == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *score)
}
