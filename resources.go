/*
	ipwatch - an IP reputation notifier by ScraperWall
	Copyright (C) 2021 ScraperWall, Tobias von Dewitz <tobias@scraperwall.com>

	This program is free software: you can redistribute it and/or modify it
	under the terms of the GNU Affero General Public License as published by
	the Free Software Foundation, either version 3 of the License, or (at your
	option) any later version.

	This program is distributed in the hope that it will be useful, but WITHOUT
	ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
	FITNESS FOR A PARTICULAR PURPOSE. See the GNU Affero General Public License
	for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

package ipwatch

import (
	"context"
	"net/http"

	"github.com/scraperwall/ipwatch/config"
	"github.com/scraperwall/ipwatch/store"
	log "github.com/sirupsen/logrus"
)

// Resources bundles the collaborators of the request pipeline
type Resources struct {
	Store      store.VisitStore
	Reputation *Reputation
	Notifier   *Notifier
	Ignorelist *Ignorelist
	Resolver   *Resolver
}

// NewResources creates all collaborators from the configuration. The visit store
// is opened by the caller so that it can be shared or replaced in tests
func NewResources(ctx context.Context, cfg *config.Config, visits store.VisitStore) (*Resources, error) {
	ignorelist, err := NewIgnorelist(ctx, cfg.IgnoreTOML)
	if err != nil {
		return nil, err
	}

	res := &Resources{
		Store:      visits,
		Reputation: NewReputation(cfg),
		Notifier:   NewNotifier(cfg.WebhookURL, &http.Client{Timeout: cfg.RequestTimeout}),
		Ignorelist: ignorelist,
	}

	if cfg.DNSServer != "" {
		log.Infof("reverse lookups enabled via %s", cfg.DNSServer)
		res.Resolver = NewResolver(cfg.DNSServer, cfg.ResolverTTL, cfg.RequestTimeout)
	}

	return res, nil
}

// Close releases everything but the visit store
func (r *Resources) Close() {
	if r.Reputation != nil {
		if err := r.Reputation.Close(); err != nil {
			log.Warnf("closing reputation cache: %s", err)
		}
	}
	if err := r.Ignorelist.Close(); err != nil {
		log.Warnf("closing ignore rules watcher: %s", err)
	}
	if r.Resolver != nil {
		if err := r.Resolver.Close(); err != nil {
			log.Warnf("closing resolver cache: %s", err)
		}
	}
}
