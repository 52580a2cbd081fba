// Package logging configures logrus for the agent and keeps secrets out of
// log output.
package logging

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

const redacted = "[REDACTED]"

// secretPatterns match credentials that may appear inside messages or values
var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	// Authorization header values
	{regexp.MustCompile(`\b(Basic|Bearer)\s+[A-Za-z0-9+/=._~-]+`), "$1 " + redacted},
	// Passwords embedded in URLs
	{regexp.MustCompile(`(?i)(\b[a-z][a-z0-9+.-]*://[^/\s:@]+):[^@\s/]+@`), "$1:" + redacted + "@"},
	// password=... style pairs
	{regexp.MustCompile(`(?i)\b(password|passwd|token|secret)(["']?\s*[:=]\s*["']?)[^\s"',&]+`), "$1$2" + redacted},
	// AWS access key ids
	{regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`), "[REDACTED-AWS-KEY]"},
	// Hex tokens such as the API token
	{regexp.MustCompile(`\b[a-fA-F0-9]{32,}\b`), redacted},
}

// blobPattern finds base64 candidates such as ciphertexts and key material.
// Only mixed-case runs with digits are redacted so long paths survive.
var blobPattern = regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)

// ipPattern matches IPv4 addresses, treated as PII unless allowed
var ipPattern = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)

// SensitiveFieldNames are field names whose values are always dropped
var SensitiveFieldNames = map[string]bool{
	"password":          true,
	"encryptedpassword": true,
	"adg_storage_key":   true,
	"secret":            true,
	"secretkey":         true,
	"accesskeyid":       true,
	"key":               true,
	"token":             true,
	"apitoken":          true,
	"authorization":     true,
	"credentials":       true,
}

// SanitizeString removes secrets from s. IP addresses are kept unless
// redactIPs is set.
func SanitizeString(s string, redactIPs bool) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	s = blobPattern.ReplaceAllStringFunc(s, func(m string) string {
		if looksRandom(m) {
			return redacted
		}
		return m
	})
	if redactIPs {
		s = ipPattern.ReplaceAllString(s, "[IP-REDACTED]")
	}
	return s
}

func looksRandom(s string) bool {
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return upper && lower && digit
}

// SanitizeFields returns a copy of fields with secrets removed
func SanitizeFields(fields logrus.Fields, redactIPs bool) logrus.Fields {
	sanitized := make(logrus.Fields, len(fields))

	for k, v := range fields {
		if SensitiveFieldNames[strings.ToLower(k)] {
			sanitized[k] = redacted
			continue
		}

		switch val := v.(type) {
		case nil:
			sanitized[k] = nil
		case string:
			sanitized[k] = SanitizeString(val, redactIPs)
		case error:
			sanitized[k] = SanitizeString(val.Error(), redactIPs)
		case fmt.Stringer:
			sanitized[k] = SanitizeString(val.String(), redactIPs)
		case bool, int, int64, uint64, float64:
			sanitized[k] = val
		default:
			sanitized[k] = SanitizeString(fmt.Sprintf("%v", val), redactIPs)
		}
	}
	return sanitized
}

// SanitizingHook scrubs every entry before it is written
type SanitizingHook struct {
	redactIPs bool
}

func NewSanitizingHook(redactIPs bool) *SanitizingHook {
	return &SanitizingHook{redactIPs: redactIPs}
}

func (h *SanitizingHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *SanitizingHook) Fire(entry *logrus.Entry) error {
	entry.Message = SanitizeString(entry.Message, h.redactIPs)
	if entry.Data != nil {
		entry.Data = SanitizeFields(entry.Data, h.redactIPs)
	}
	return nil
}

// Setup configures the standard logger: level, text output with full
// timestamps and the sanitizing hook. Server addresses are what this agent
// is about, so IPs are only redacted when ADGMANAGER_REDACT_IPS=true.
func Setup(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.AddHook(NewSanitizingHook(os.Getenv("ADGMANAGER_REDACT_IPS") == "true"))
	return nil
}
