package gameserver

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	trackedRe = regexp.MustCompile(`There are \d+ tracked entity/entities: (.+)`)
	scoreRe   = regexp.MustCompile(`has (\d+)`)
	onlineRe  = regexp.MustCompile(`online:\s*(.+)$`)
)

// parseTracked extracts the names from `scoreboard players list` output.
func parseTracked(out string) []string {
	m := trackedRe.FindStringSubmatch(out)
	if m == nil {
		return nil
	}
	return splitNames(m[1])
}

// parseScore extracts the value from `scoreboard players get` output.
func parseScore(out string) (int, bool) {
	m := scoreRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseOnline extracts the names from `list` output.
func parseOnline(out string) []string {
	m := onlineRe.FindStringSubmatch(strings.TrimSpace(out))
	if m == nil {
		return nil
	}
	return splitNames(m[1])
}

func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
