// Package extract converts image and PDF bytes into per-page text.
//
// PDFs are optimized and split into single-page files with pdfcpu, then
// each page goes through the text extractor independently; a page failure
// marks its slot instead of removing it, so documents keep contiguous
// 1-based page numbering regardless of partial loss.
package extract

// Page is one extracted page. A page that failed extraction has OK=false
// and empty text but keeps its position in the document.
type Page struct {
	Number int
	Text   string
	OK     bool
}

// Document is the ordered extraction result for one source file.
type Document struct {
	SourceKey string
	Pages     []Page
}

// SuccessRatio reports the fraction of pages that extracted successfully.
// An empty document counts as fully successful.
func (d *Document) SuccessRatio() float64 {
	if len(d.Pages) == 0 {
		return 1
	}
	ok := 0
	for _, p := range d.Pages {
		if p.OK {
			ok++
		}
	}
	return float64(ok) / float64(len(d.Pages))
}

// FailedPages returns the numbers of pages that did not extract.
func (d *Document) FailedPages() []int {
	var failed []int
	for _, p := range d.Pages {
		if !p.OK {
			failed = append(failed, p.Number)
		}
	}
	return failed
}
