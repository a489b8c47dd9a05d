package ipwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/scraperwall/ipwatch/config"
	"github.com/scraperwall/ipwatch/data"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Reputation queries the AbuseIPDB check endpoint
type Reputation struct {
	apiBase      string
	apiKey       string
	maxAgeInDays int
	client       *http.Client
	cache        *ttlcache.Cache
	group        singleflight.Group
}

// NewReputation creates a new AbuseIPDB client.
// Successful lookups are cached for cfg.ReputationTTL; a TTL of 0 disables the cache
func NewReputation(cfg *config.Config) *Reputation {
	r := &Reputation{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		apiKey:       cfg.APIKey,
		maxAgeInDays: cfg.MaxAgeInDays,
		client:       &http.Client{Timeout: cfg.RequestTimeout},
	}

	if cfg.ReputationTTL > 0 {
		r.cache = ttlcache.NewCache()
		r.cache.SetTTL(cfg.ReputationTTL)
		r.cache.SkipTTLExtensionOnHit(true)
	}

	return r
}

// Check looks up the reputation of ip. If the API answers with an errors
// envelope the returned error is a *data.APIError
func (r *Reputation) Check(ctx context.Context, ip string) (*data.Reputation, error) {
	if r.cache != nil {
		if cached, err := r.cache.Get(ip); err == nil {
			log.Tracef("reputation of %s served from cache", ip)
			return cached.(*data.Reputation), nil
		}
	}

	// the shared lookup must not depend on whichever caller started it;
	// it is bounded by the http.Client timeout instead
	lookup := context.WithoutCancel(ctx)
	ch := r.group.DoChan(ip, func() (interface{}, error) {
		rep, err := r.check(lookup, ip)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if err := r.cache.Set(ip, rep); err != nil {
				log.Warnf("failed to cache the reputation of %s: %s", ip, err)
			}
		}
		return rep, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("reputation lookup of %s: %w", ip, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Tracef("reputation lookup of %s was shared", ip)
		}
		return res.Val.(*data.Reputation), nil
	}
}

// Close stops the cache's expiry goroutine
func (r *Reputation) Close() error {
	if r.cache != nil {
		return r.cache.Close()
	}
	return nil
}

func (r *Reputation) check(ctx context.Context, ip string) (*data.Reputation, error) {
	query := url.Values{}
	query.Set("ipAddress", ip)
	if r.maxAgeInDays > 0 {
		query.Set("maxAgeInDays", strconv.Itoa(r.maxAgeInDays))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiBase+"/check?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Key", r.apiKey)

	tStart := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation lookup of %s failed: %w", ip, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read the reputation of %s: %w", ip, err)
	}
	log.Tracef("reputation lookup of %s: HTTP %d in %v", ip, resp.StatusCode, time.Since(tStart))

	var cr data.CheckResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("invalid reputation response for %s (HTTP %d): %w", ip, resp.StatusCode, err)
	}

	if len(cr.Errors) > 0 {
		apiErr := cr.Errors[0]
		return nil, &apiErr
	}

	if cr.Data == nil {
		return nil, errors.New("reputation response contains neither data nor errors")
	}

	return cr.Data, nil
}
