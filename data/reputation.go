package data

import (
	"fmt"
	"time"
)

// Reputation is the data object returned by the AbuseIPDB check endpoint
type Reputation struct {
	IPAddress            string     `json:"ipAddress"`
	IsPublic             bool       `json:"isPublic"`
	IPVersion            int        `json:"ipVersion"`
	IsWhitelisted        bool       `json:"isWhitelisted"`
	AbuseConfidenceScore *int       `json:"abuseConfidenceScore"`
	CountryCode          string     `json:"countryCode"`
	CountryName          string     `json:"countryName"`
	UsageType            string     `json:"usageType"`
	ISP                  string     `json:"isp"`
	Domain               string     `json:"domain"`
	Hostnames            []string   `json:"hostnames"`
	IsTor                bool       `json:"isTor"`
	TotalReports         int        `json:"totalReports"`
	NumDistinctUsers     int        `json:"numDistinctUsers"`
	LastReportedAt       *time.Time `json:"lastReportedAt"`
}

// APIError is a single entry of the AbuseIPDB errors envelope
type APIError struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

// CheckResponse is the complete response of the check endpoint.
// Exactly one of Data and Errors is expected to be set
type CheckResponse struct {
	Data   *Reputation `json:"data"`
	Errors []APIError  `json:"errors"`
}
