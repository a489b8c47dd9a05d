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

package config

import (
	"errors"
	"time"
)

// Config contains all configurable bits and pieces the ipwatch application needs
// The configuration gets passed on to all parts of the application that need to access it
type Config struct {
	WebhookURL     string
	APIKey         string
	APIBase        string
	MaxAgeInDays   int
	Listen         string
	IPHeader       string
	StoreBackend   string
	CacheFile      string
	BadgerPath     string
	RedisURL       string
	RedisKey       string
	RequestTimeout time.Duration
	ReputationTTL  time.Duration
	DNSServer      string
	ResolverTTL    time.Duration
	IgnoreTOML     string
	ThumbnailURL   string
	FooterText     string
	AdminPrefix    string
	StatsInterval  time.Duration
	LogLevel       string
	LogFormat      string
}

// Defaults used when a Config field is left empty
const (
	DefaultAPIBase        = "https://api.abuseipdb.com/api/v2"
	DefaultIPHeader       = "X-Forwarded-For"
	DefaultCacheFile      = "ipCache.json"
	DefaultRedisKey       = "ipwatch:visits"
	DefaultRequestTimeout = 30 * time.Second
	DefaultThumbnailURL   = "https://cdn.discordapp.com/attachments/1024287372881440848/1072521498440503336/abuseipdb-logo.png"
)

// Validate makes sure that both credentials are present
func (c *Config) Validate() error {
	if c.WebhookURL == "" {
		return errors.New("the webhook URL is missing (DISCORD_WEBHOOK_URL)")
	}
	if c.APIKey == "" {
		return errors.New("the AbuseIPDB API key is missing (ABUSE_IP_DB_API_KEY)")
	}
	return nil
}

// SetDefaults fills in every empty field that has a sensible default
func (c *Config) SetDefaults() {
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.IPHeader == "" {
		c.IPHeader = DefaultIPHeader
	}
	if c.StoreBackend == "" {
		c.StoreBackend = "file"
	}
	if c.CacheFile == "" {
		c.CacheFile = DefaultCacheFile
	}
	if c.RedisKey == "" {
		c.RedisKey = DefaultRedisKey
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ThumbnailURL == "" {
		c.ThumbnailURL = DefaultThumbnailURL
	}
}
