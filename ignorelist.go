package ipwatch

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/scraperwall/ipwatch/data"
	log "github.com/sirupsen/logrus"
	fsnotify "gopkg.in/fsnotify.v1"
)

// Ignorelist decides which requests are served without any reputation lookup or notification
type Ignorelist struct {
	mutex        sync.RWMutex
	rules        IgnoreRules
	cidrs        []CIDRIgnoreRule
	UpdatedAt    time.Time
	path         string
	rulesWatcher *fsnotify.Watcher
	ctx          context.Context
}

// IgnoreRules contains the Ignorelist configuration
type IgnoreRules struct {
	IP        []IgnoreRule
	CIDR      []IgnoreRule
	Path      []IgnoreRule
	Useragent []IgnoreRule
}

// IgnoreRule represents a single Ignorelist rule
type IgnoreRule struct {
	Pattern     string
	Description string
	Regexp      *regexp.Regexp `toml:"-"`
}

// CIDRIgnoreRule is a CIDR ignore rule
type CIDRIgnoreRule struct {
	Network     *net.IPNet
	Description string
}

// NewIgnorelist loads the rules from the TOML file at path and reloads them whenever the file changes.
// An empty path creates an Ignorelist that doesn't ignore anything
func NewIgnorelist(ctx context.Context, path string) (*Ignorelist, error) {
	il := &Ignorelist{
		path:  path,
		cidrs: make([]CIDRIgnoreRule, 0),
		ctx:   ctx,
	}

	if path == "" {
		return il, nil
	}

	if err := il.Load(); err != nil {
		return nil, err
	}

	if err := il.reloadOnConfigChanges(); err != nil {
		return nil, err
	}

	return il, nil
}

// Load reads all ignore rules from the configuration file
func (il *Ignorelist) Load() error {
	var rules IgnoreRules

	configBytes, err := ioutil.ReadFile(il.path)
	if err != nil {
		return err
	}

	err = toml.Unmarshal(configBytes, &rules)
	if err != nil {
		return err
	}

	if err := compileRules("IP", rules.IP); err != nil {
		return err
	}
	if err := compileRules("path", rules.Path); err != nil {
		return err
	}
	if err := compileRules("useragent", rules.Useragent); err != nil {
		return err
	}

	// CIDR
	cidrRules := make([]CIDRIgnoreRule, len(rules.CIDR))
	for i, r := range rules.CIDR {
		cidr := strings.TrimSpace(strings.Replace(r.Pattern, `\`, "", -1))
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("can't parse ignore CIDR %s (%s): %s", r.Pattern, r.Description, err)
		}

		cidrRules[i] = CIDRIgnoreRule{
			Network:     network,
			Description: r.Description,
		}
	}

	il.mutex.Lock()
	il.rules = rules
	il.cidrs = cidrRules
	il.UpdatedAt = time.Now()
	il.mutex.Unlock()

	log.Infof("ignore rules loaded from %s", il.path)
	return nil
}

func compileRules(kind string, rules []IgnoreRule) (err error) {
	for i, r := range rules {
		rules[i].Regexp, err = regexp.Compile(fmt.Sprintf("^%s$", r.Pattern))
		if err != nil {
			return fmt.Errorf("can't parse ignore %s regexp %s (%s): %s", kind, r.Pattern, r.Description, err)
		}
	}
	return nil
}

// IsIgnored determines whether req should be left alone. The method returns whether
// the request is ignored and the description of the rule that matched
func (il *Ignorelist) IsIgnored(req *data.Request) (ignored bool, description string) {
	if il == nil {
		return false, ""
	}

	il.mutex.RLock()
	defer il.mutex.RUnlock()

	if ip := net.ParseIP(req.IP); ip != nil {
		for _, r := range il.cidrs {
			if r.Network.Contains(ip) {
				return true, r.Description
			}
		}
	}

	for _, r := range il.rules.IP {
		if r.Regexp.MatchString(req.IP) {
			return true, r.Description
		}
	}

	for _, r := range il.rules.Path {
		if r.Regexp.MatchString(req.Path) {
			return true, r.Description
		}
	}

	for _, r := range il.rules.Useragent {
		if r.Regexp.MatchString(req.UserAgent) {
			return true, r.Description
		}
	}

	return false, ""
}

// Close stops watching the rules file
func (il *Ignorelist) Close() error {
	if il != nil && il.rulesWatcher != nil {
		return il.rulesWatcher.Close()
	}
	return nil
}

func (il *Ignorelist) reloadOnConfigChanges() error {
	if il.rulesWatcher != nil {
		log.Warn("ignore rules file watcher already exists")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("couldn't start ignore rules fsnotify watcher: %w", err)
	}

	if err := watcher.Add(il.path); err != nil {
		watcher.Close()
		return err
	}
	il.rulesWatcher = watcher

	go func() {
		for {
			select {
			case <-il.ctx.Done():
				log.Infof("ignore rules watcher exiting")
				watcher.Close()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					if err := il.Load(); err != nil {
						log.Errorf("failed to reload the ignore rules, keeping the previous ones: %s", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("ignore rules watcher error event: %s", err)
			}
		}
	}()

	return nil
}
