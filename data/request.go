package data

import (
	"time"
)

// Request represents the parts of an HTTP request ipwatch reports on
type Request struct {
	IP        string    `json:"ip"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Host      string    `json:"host"`
	UserAgent string    `json:"useragent"`
	Time      time.Time `json:"time"`
}
