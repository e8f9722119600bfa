// Package metadata derives taxpayer identity, company name, branch label and
// reporting period from loosely structured spreadsheet titles and filenames.
package metadata

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// UnknownTIN is the sentinel taxpayer id assigned to files whose name does
// not follow the TIN naming convention.
const UnknownTIN = "UNKNOWN"

var (
	// tinPattern matches the leading taxpayer id in a sales file name,
	// e.g. "L001-100044638_SALE_01_2024.xlsx".
	tinPattern = regexp.MustCompile(`^([LKB]\d{3}-\d{9})_`)

	// headOfficePattern matches a parenthesized segment containing the
	// Khmer "head office" marker.
	headOfficePattern = regexp.MustCompile(`\(([^)]*ទីស្នាក់ការកណ្តាល[^)]*)\)`)

	// branchPattern matches a parenthesized segment containing the Khmer
	// "branch" marker.
	branchPattern = regexp.MustCompile(`\(([^)]*សាខា[^)]*)\)`)

	// companyPattern captures the text following the Khmer possessive
	// marker ("of ..."), optionally including a trailing parenthesized
	// branch annotation that is stripped afterwards.
	companyPattern    = regexp.MustCompile(`របស់\s*([^(]+(?:\s*\([^)]*\))?)`)
	annotationPattern = regexp.MustCompile(`\s*\((?:សាខា[^)]*|ទីស្នាក់ការកណ្តាល[^)]*)\)`)

	// periodPattern matches the "_MM_YYYY" segment of a sales file name,
	// tolerating duplicate-download suffixes such as " (1)".
	periodPattern = regexp.MustCompile(`_(\d{2})_(\d{4})(?:\s*\(\d+\))*\.`)
)

// Profile holds the identity derived for a taxpayer within one run.
type Profile struct {
	TIN         string
	CompanyName string
	Branch      string
}

// Period is the (month, year) a sales file declares for.
type Period struct {
	Month int
	Year  int
}

// TINFromFilename extracts the taxpayer id from a file path's base name.
// Names that do not follow the convention yield UnknownTIN.
func TINFromFilename(path string) string {
	if m := tinPattern.FindStringSubmatch(filepath.Base(path)); m != nil {
		return m[1]
	}
	return UnknownTIN
}

// BranchFromTitle extracts the branch label from a spreadsheet title.
// A head-office annotation wins over a branch annotation; absence of both
// yields an empty string.
func BranchFromTitle(title string) string {
	if title == "" {
		return ""
	}
	if m := headOfficePattern.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := branchPattern.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// CompanyFromTitle extracts the company name from a spreadsheet title,
// stripping any trailing branch or head-office annotation. When the
// possessive marker is absent the raw title is returned unchanged.
func CompanyFromTitle(title string) string {
	if title == "" {
		return ""
	}
	if m := companyPattern.FindStringSubmatch(title); m != nil {
		name := strings.TrimSpace(m[1])
		name = strings.TrimSpace(annotationPattern.ReplaceAllString(name, ""))
		return name
	}
	if parts := strings.Split(title, "របស់"); len(parts) > 1 {
		return strings.TrimSpace(parts[len(parts)-1])
	}
	return title
}

// PeriodFromFilename extracts the (month, year) a sales file name declares
// for. The second return value is false when the name carries no period.
func PeriodFromFilename(path string) (Period, bool) {
	m := periodPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return Period{}, false
	}
	month, err := strconv.Atoi(m[1])
	if err != nil || month < 1 || month > 12 {
		return Period{}, false
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return Period{}, false
	}
	return Period{Month: month, Year: year}, true
}

// ProfileFromTitle assembles a taxpayer profile from the TIN and the
// spreadsheet title. Garbled titles produce empty name and branch fields;
// the import continues regardless.
func ProfileFromTitle(tin, title string) Profile {
	return Profile{
		TIN:         tin,
		CompanyName: CompanyFromTitle(title),
		Branch:      BranchFromTitle(title),
	}
}
