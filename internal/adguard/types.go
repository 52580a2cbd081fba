package adguard

import "encoding/json"

// Status is the payload of GET /control/status
type Status struct {
	ProtectionEnabled          bool     `json:"protection_enabled"`
	ProtectionDisabledDuration int64    `json:"protection_disabled_duration,omitempty"`
	Running                    bool     `json:"running"`
	Version                    string   `json:"version"`
	Language                   string   `json:"language,omitempty"`
	DNSAddresses               []string `json:"dns_addresses,omitempty"`
	DNSPort                    int      `json:"dns_port,omitempty"`
	HTTPPort                   int      `json:"http_port,omitempty"`
	DHCPAvailable              bool     `json:"dhcp_available,omitempty"`
}

// Stats is the payload of GET /control/stats
type Stats struct {
	TimeUnits               string           `json:"time_units"`
	NumDNSQueries           int              `json:"num_dns_queries"`
	NumBlockedFiltering     int              `json:"num_blocked_filtering"`
	NumReplacedSafebrowsing int              `json:"num_replaced_safebrowsing"`
	NumReplacedSafesearch   int              `json:"num_replaced_safesearch"`
	NumReplacedParental     int              `json:"num_replaced_parental"`
	AvgProcessingTime       float64          `json:"avg_processing_time"`
	TopQueriedDomains       []map[string]int `json:"top_queried_domains,omitempty"`
	TopBlockedDomains       []map[string]int `json:"top_blocked_domains,omitempty"`
	TopClients              []map[string]int `json:"top_clients,omitempty"`
	DNSQueries              []int            `json:"dns_queries,omitempty"`
	BlockedFiltering        []int            `json:"blocked_filtering,omitempty"`
}

// BlockedPercent is the share of queries blocked by filtering
func (s *Stats) BlockedPercent() float64 {
	if s.NumDNSQueries == 0 {
		return 0
	}
	return float64(s.NumBlockedFiltering) * 100 / float64(s.NumDNSQueries)
}

// ProtectionResult is what POST /control/protection answered. Older servers
// answer with plain text ("OK"), newer ones with JSON.
type ProtectionResult struct {
	Enabled bool            `json:"enabled"`
	JSON    json.RawMessage `json:"json,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// TestResult reports the outcome of a connection test without failing
type TestResult struct {
	Success bool    `json:"success"`
	Status  *Status `json:"status,omitempty"`
	Error   *Error  `json:"error,omitempty"`
}

type protectionRequest struct {
	Enabled  bool  `json:"enabled"`
	Duration int64 `json:"duration,omitempty"`
}
