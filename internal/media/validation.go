package media

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

type patterns struct {
	youtube  *regexp.Regexp
	videoID  *regexp.Regexp
	playlist *regexp.Regexp
}

var urlPatterns = sync.OnceValue(func() patterns {
	return patterns{
		youtube:  regexp.MustCompile(`^https?://(www\.|m\.)?(youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/|youtube\.com/shorts/)([a-zA-Z0-9_-]{11})`),
		videoID:  regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`),
		playlist: regexp.MustCompile(`[&?]list=([a-zA-Z0-9_-]+)`),
	}
})

var reservedNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

func IsValidYouTubeURL(link string) bool {
	return urlPatterns().youtube.MatchString(link)
}

func ExtractVideoID(link string) (string, error) {
	m := urlPatterns().youtube.FindStringSubmatch(link)
	if m == nil {
		return "", fmt.Errorf("invalid YouTube URL: %s", link)
	}
	if !urlPatterns().videoID.MatchString(m[3]) {
		return "", fmt.Errorf("could not extract video ID from: %s", link)
	}
	return m[3], nil
}

// NormalizeURL rewrites any supported YouTube URL into the watch form.
func NormalizeURL(link string) (string, error) {
	id, err := ExtractVideoID(link)
	if err != nil {
		return "", err
	}
	return "https://www.youtube.com/watch?v=" + id, nil
}

// PlaylistID returns the list parameter, if any.
func PlaylistID(link string) (string, bool) {
	m := urlPatterns().playlist.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsValidOutputPath rejects names that cannot be created on common
// filesystems, Windows included.
func IsValidOutputPath(p string) bool {
	if p == "" || len(p) > 255 {
		return false
	}
	for _, r := range p {
		if strings.ContainsRune(`<>:"|?*`, r) || unicode.IsControl(r) {
			return false
		}
	}
	stem, _, _ := strings.Cut(strings.ToUpper(p), ".")
	if slices.Contains(reservedNames, strings.TrimSpace(stem)) {
		return false
	}
	return !strings.HasSuffix(p, " ") && !strings.HasSuffix(p, ".")
}

// SanitizeFilename replaces characters that are invalid in file names and
// trims the result to a usable length.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(`<>:"|?*/\`, r) || unicode.IsControl(r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	sanitized := strings.TrimRight(b.String(), " .")
	if sanitized == "" {
		return "video"
	}
	if len(sanitized) > 200 {
		sanitized = truncateUTF8(sanitized, 200)
	}
	return sanitized
}

func truncateUTF8(s string, n int) string {
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
