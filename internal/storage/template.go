package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_]+)\}`)

// FormatFileName resolves the placeholders of template against the source
// file name and now:
//
//	{file_fullname}  source name as given
//	{file_name}      base name without extension
//	{file_extension} extension including the dot
//	{Y} {mm} {dd}    date
//	{HH} {MM} {SS}   time
//
// Unknown placeholders are left as written.
func FormatFileName(template, sourceName string, now time.Time) string {
	base := filepath.Base(sourceName)
	ext := filepath.Ext(base)

	values := map[string]string{
		"file_fullname":  sourceName,
		"file_name":      strings.TrimSuffix(base, ext),
		"file_extension": ext,
		"Y":              fmt.Sprintf("%04d", now.Year()),
		"mm":             fmt.Sprintf("%02d", int(now.Month())),
		"dd":             fmt.Sprintf("%02d", now.Day()),
		"HH":             fmt.Sprintf("%02d", now.Hour()),
		"MM":             fmt.Sprintf("%02d", now.Minute()),
		"SS":             fmt.Sprintf("%02d", now.Second()),
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// DefaultDestination is the name used when the caller gives none:
// "report.pdf" becomes "report_pdf.md".
func DefaultDestination(sourceName string) string {
	return strings.ReplaceAll(sourceName, ".", "_") + ".md"
}
