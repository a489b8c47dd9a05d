package ipwatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scraperwall/ipwatch/data"
)

// Embed colors by abuse confidence
const (
	ColorSafe   = 2664261  // green
	ColorLow    = 16766720 // yellow
	ColorMedium = 16745755 // orange
	ColorHigh   = 16711937 // red
)

const abuseIPDBCheckURL = "https://www.abuseipdb.com/check/"

// EmbedOptions contains the static parts of every embed
type EmbedOptions struct {
	ThumbnailURL string
	FooterText   string
	ReverseDNS   string
}

// ColorFor maps an abuse confidence score to the embed color.
// A missing score and a score of 0 are both safe: AbuseIPDB reports 0 for IPs
// nobody has reported, so only scores from 1 to 25 are low
func ColorFor(score *int) int {
	switch {
	case score == nil || *score == 0:
		return ColorSafe
	case *score <= 25:
		return ColorLow
	case *score < 80:
		return ColorMedium
	default:
		return ColorHigh
	}
}

// Title returns the embed title for ip and its visit count
func Title(ip string, visits int) string {
	unit := "times"
	if visits == 1 {
		unit = "time"
	}
	return fmt.Sprintf("%s (has visited __%d__ %s)", ip, visits, unit)
}

// HostnamesValue renders the hostnames as a comma separated list.
// An absent and an empty list both render as "0"
func HostnamesValue(hostnames []string) string {
	if len(hostnames) == 0 {
		return "0"
	}
	return strings.Join(hostnames, ",")
}

// LastReportedValue renders the time of the latest report as a Discord timestamp
func LastReportedValue(rep *data.Reputation) string {
	if rep.LastReportedAt == nil {
		return "null"
	}
	return fmt.Sprintf("> <t:%d:f>", rep.LastReportedAt.Unix())
}

// CountryValue renders the country code as a flag emoji
func CountryValue(countryCode string) string {
	if countryCode == "" {
		return "> null"
	}
	return fmt.Sprintf("> :flag_%s:", strings.ToLower(countryCode))
}

// FormatEmbed builds the notification for a single request
func FormatEmbed(rep *data.Reputation, req *data.Request, visits int, opts EmbedOptions) data.Embed {
	ip := rep.IPAddress
	if ip == "" {
		ip = req.IP
	}

	score := "null"
	if rep.AbuseConfidenceScore != nil {
		score = strconv.Itoa(*rep.AbuseConfidenceScore)
	}

	embed := data.Embed{
		Title:       Title(ip, visits),
		Description: fmt.Sprintf("**[LINK](%s%s)** \n\n", abuseIPDBCheckURL, ip),
		Color:       ColorFor(rep.AbuseConfidenceScore),
		Fields: []data.EmbedField{
			{Name: "Method", Value: fmt.Sprintf("**`%s`**", req.Method), Inline: true},
			{Name: "Path", Value: fmt.Sprintf("**`%s`**", req.Path), Inline: true},
			{Name: "Confidence of abuse", Value: fmt.Sprintf("**`%s` %%**", score)},
			{Name: "Total reports", Value: fmt.Sprintf("> **`%d`** reports by **`%d`** users", rep.TotalReports, rep.NumDistinctUsers), Inline: true},
			{Name: "Latest report", Value: LastReportedValue(rep), Inline: true},
			{Name: "ISP", Value: "> " + orNull(rep.ISP)},
			{Name: "Usage type", Value: "> " + orNull(rep.UsageType)},
			{Name: "Domain name", Value: "> " + orNull(rep.Domain)},
			{Name: "Country", Value: CountryValue(rep.CountryCode)},
			{Name: "Hostnames", Value: "> " + HostnamesValue(rep.Hostnames)},
		},
	}

	if opts.ReverseDNS != "" {
		embed.Fields = append(embed.Fields, data.EmbedField{Name: "Reverse DNS", Value: "> " + opts.ReverseDNS})
	}

	if opts.ThumbnailURL != "" {
		embed.Thumbnail = &data.EmbedThumbnail{URL: opts.ThumbnailURL}
	}

	footer := opts.FooterText
	if footer == "" && req.Host != "" {
		footer = "Source • https://" + req.Host
	}
	if footer != "" {
		embed.Footer = &data.EmbedFooter{Text: footer}
	}

	return embed
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}
