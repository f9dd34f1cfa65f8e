package utils

import (
	"crypto/md5"
	"fmt"
	"regexp"
	"strings"
)

var (
	punctPattern      = regexp.MustCompile(`[!?.,;:()\[\]{}"'´\x60~^*%$#@/\\|<>=+-]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeQuery lowercases, trims, strips punctuation and collapses
// whitespace so that trivially different phrasings hash to the same key.
func NormalizeQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = punctPattern.ReplaceAllString(q, " ")
	q = whitespacePattern.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashQuery is the cache key for a raw query: normalize then digest.
func HashQuery(query string) string {
	return HashString(NormalizeQuery(query))
}
