package storage

import (
	"regexp"
	"sort"
	"strings"
)

var hashtagRE = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// ExtractHashtags returns the #tags found in s, in order of appearance.
func ExtractHashtags(s string) []string {
	return hashtagRE.FindAllString(s, -1)
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		k := strings.ToLower(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
