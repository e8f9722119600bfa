// Package report maintains the rolling cross-taxpayer summary workbook.
package report

import (
	"fmt"
	"sort"
	"strings"
)

var monthNames = [...]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// MonthName returns the short English name for a month number, or the
// number itself for out-of-range input.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return fmt.Sprintf("%d", month)
	}
	return monthNames[month-1]
}

// FormatMonthList renders a set of month numbers as a human-readable list
// of inclusive ranges: {1,2,3,6} becomes "Jan-Mar, Jun".
func FormatMonthList(months []int) string {
	if len(months) == 0 {
		return ""
	}

	nums := make([]int, 0, len(months))
	seen := make(map[int]bool, len(months))
	for _, m := range months {
		if !seen[m] {
			seen[m] = true
			nums = append(nums, m)
		}
	}
	sort.Ints(nums)

	var ranges []string
	flush := func(start, end int) {
		if start == end {
			ranges = append(ranges, MonthName(start))
		} else {
			ranges = append(ranges, fmt.Sprintf("%s-%s", MonthName(start), MonthName(end)))
		}
	}

	start := nums[0]
	prev := nums[0]
	for _, curr := range nums[1:] {
		if curr == prev+1 {
			prev = curr
			continue
		}
		flush(start, prev)
		start = curr
		prev = curr
	}
	flush(start, prev)

	return strings.Join(ranges, ", ")
}
