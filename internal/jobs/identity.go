package jobs

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 40

// Slugify renders description into the job's slug component, per spec.md
// §3: lowercase, non-alphanumeric runs collapsed to a single hyphen,
// trimmed to 40 chars, edge hyphens stripped.
func Slugify(description string) string {
	s := slugInvalid.ReplaceAllString(strings.ToLower(description), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "job"
	}
	return s
}

// Hash6 returns the first 6 hex digits of MD5(slug + "-" + isoNow), per
// spec.md §3.
func Hash6(slug string, at time.Time) string {
	sum := md5.Sum([]byte(slug + "-" + at.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:6]
}

// UnitName composes the job's unit base name, per spec.md §3:
// <prefix>-<slug>-<hash6>.
func UnitName(prefix, slug, hash6 string) string {
	return prefix + "-" + slug + "-" + hash6
}
