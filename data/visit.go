package data

// Visit is the persisted record for a single IP
type Visit struct {
	Count int `json:"count"`
}

// IPVisits pairs an IP with its visit record
type IPVisits struct {
	IP string `json:"ip"`
	Visit
}
