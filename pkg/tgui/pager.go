package tgui

import "fmt"

// PageCount returns the number of pages needed for total items (at least 1).
func PageCount(total, size int) int {
	if size <= 0 {
		size = 10
	}
	if total <= 0 {
		return 1
	}
	return (total + size - 1) / size
}

// ClampPage keeps a 0-based page inside [0, PageCount-1].
func ClampPage(page, size, total int) int {
	last := PageCount(total, size) - 1
	if page > last {
		page = last
	}
	if page < 0 {
		page = 0
	}
	return page
}

// PageLabel returns a compact pagination label. page is 0-based.
func PageLabel(page, size, total int) string {
	if size <= 0 {
		size = 10
	}
	if total <= 0 {
		return "第 1/1 頁"
	}
	page = ClampPage(page, size, total)
	from := page*size + 1
	to := min((page+1)*size, total)
	return fmt.Sprintf("第 %d/%d 頁 • %d–%d / 共 %d", page+1, PageCount(total, size), from, to, total)
}
