package fs

import (
	"strconv"
	"strings"
	"time"
)

// ListingEntry is one parsed row of a long-format listing:
//
//	<perm> <links> <uid> <gid> <size> <mon> <day> <H:M:S> <year> <name>[ -> <target>]
type ListingEntry struct {
	Perm    string
	UID     int
	GID     int
	Size    int64
	HasSize bool
	ModTime time.Time
	Name    string

	// Set for symlinks only.
	LinkTarget  string
	TargetIsDir bool
}

// Type returns the entry type character ('-', 'd', 'l', 'c', 'b', 'p', 's').
func (e ListingEntry) Type() byte { return e.Perm[0] }

func (e ListingEntry) IsSymlink() bool { return e.Type() == 'l' }

// IsDir reports directory-ness. For symlinks it follows the classified target.
func (e ListingEntry) IsDir() bool {
	if e.IsSymlink() {
		return e.TargetIsDir
	}
	return e.Type() == 'd'
}

const (
	// fixedListingFields precede the free-form name.
	fixedListingFields = 9
	minListingLine     = 30
)

var monthIndex = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// ParseListingLine parses one listing row. It reports false for rows that do
// not have the expected shape; such rows are meant to be skipped.
func ParseListingLine(line string) (ListingEntry, bool) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < minListingLine {
		return ListingEntry{}, false
	}

	fields, name := splitListing(line, fixedListingFields)
	if len(fields) < fixedListingFields-1 {
		return ListingEntry{}, false
	}

	var e ListingEntry
	var date []string
	switch {
	case strings.HasSuffix(fields[4], ","):
		// Device node: "major, minor" takes the size column.
		fields, name = splitListing(line, fixedListingFields+1)
		if len(fields) < fixedListingFields+1 || name == "" {
			return ListingEntry{}, false
		}
		date = fields[6:10]
	case isMonth(fields[4]):
		// Some listings leave the size column blank for directories.
		fields, name = splitListing(line, fixedListingFields-1)
		if len(fields) < fixedListingFields-1 || name == "" {
			return ListingEntry{}, false
		}
		date = fields[4:8]
	default:
		if len(fields) < fixedListingFields || name == "" {
			return ListingEntry{}, false
		}
		size, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil || size < 0 {
			return ListingEntry{}, false
		}
		e.Size, e.HasSize = size, true
		date = fields[5:9]
	}

	e.Perm = fields[0]
	if !strings.ContainsRune("-dlcbpsD", rune(e.Perm[0])) {
		return ListingEntry{}, false
	}
	if _, err := ParsePermissions(e.Perm); err != nil {
		return ListingEntry{}, false
	}
	var err error
	if e.UID, err = strconv.Atoi(fields[2]); err != nil {
		return ListingEntry{}, false
	}
	if e.GID, err = strconv.Atoi(fields[3]); err != nil {
		return ListingEntry{}, false
	}
	var ok bool
	if e.ModTime, ok = parseListingTime(date); !ok {
		return ListingEntry{}, false
	}

	if e.IsSymlink() {
		if link, target, found := strings.Cut(name, " -> "); found {
			name = link
			e.TargetIsDir = strings.HasSuffix(target, "/")
			e.LinkTarget = strings.TrimRight(strings.TrimRight(target, "*|=@"), "/")
			if e.LinkTarget == "" && e.TargetIsDir {
				e.LinkTarget = "/"
			}
		}
	}
	e.Name = stripClassifier(name, e.Perm)
	if e.Name == "" {
		return ListingEntry{}, false
	}
	return e, true
}

// splitListing splits the first n whitespace-separated tokens off line and
// returns the remainder, starting at its first non-blank character, verbatim.
func splitListing(line string, n int) ([]string, string) {
	fields := make([]string, 0, n)
	i := 0
	for len(fields) < n {
		for i < len(line) && isBlank(line[i]) {
			i++
		}
		if i >= len(line) {
			return fields, ""
		}
		start := i
		for i < len(line) && !isBlank(line[i]) {
			i++
		}
		fields = append(fields, line[start:i])
	}
	for i < len(line) && isBlank(line[i]) {
		i++
	}
	return fields, line[i:]
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' }

func isMonth(s string) bool {
	_, ok := monthIndex[s]
	return ok
}

// parseListingTime assembles <mon> <day> <H:M:S> <year> in local time.
func parseListingTime(f []string) (time.Time, bool) {
	month, ok := monthIndex[f[0]]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(f[1])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	clock := strings.Split(f[2], ":")
	if len(clock) < 2 || len(clock) > 3 {
		return time.Time{}, false
	}
	hms := [3]int{}
	for i, c := range clock {
		v, err := strconv.Atoi(c)
		if err != nil {
			return time.Time{}, false
		}
		hms[i] = v
	}
	year, err := strconv.Atoi(f[3])
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(year, month, day, hms[0], hms[1], hms[2], 0, time.Local), true
}

// stripClassifier removes the type suffix added by ls -F when the entry's
// type or mode accounts for it.
func stripClassifier(name, perm string) string {
	var suffix string
	switch perm[0] {
	case 'd':
		suffix = "/"
	case 'p':
		suffix = "|"
	case 's':
		suffix = "="
	case '-':
		if strings.ContainsAny(perm[1:10], "xst") {
			suffix = "*"
		}
	}
	if suffix != "" && name != suffix {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

// Listing is the outcome of parsing a whole listing.
type Listing struct {
	Entries []ListingEntry
	// Rejected counts non-blank lines that did not parse. Summary lines
	// such as "total 12" are not counted.
	Rejected int
}

// Unusable reports whether the output had content but nothing parsed.
func (l Listing) Unusable() bool { return len(l.Entries) == 0 && l.Rejected > 0 }

// ParseListing parses every line independently, dropping rows that do not parse.
func ParseListing(lines []string) Listing {
	out := Listing{Entries: make([]ListingEntry, 0, len(lines))}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "total ") {
			continue
		}
		e, ok := ParseListingLine(line)
		if !ok {
			out.Rejected++
			continue
		}
		out.Entries = append(out.Entries, e)
	}
	return out
}
