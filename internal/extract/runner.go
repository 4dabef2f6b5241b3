package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
)

// ErrTooManyPageFailures is returned when the fraction of successfully
// extracted pages falls below Options.MinSuccessRatio.
var ErrTooManyPageFailures = errors.New("too many page extraction failures")

// Options bound the cost of a single document extraction.
type Options struct {
	// MaxPages caps how many PDF pages are extracted. Pages beyond the cap
	// are dropped with a warning. Zero means no cap.
	MaxPages int

	// PageConcurrency limits how many pages extract in parallel within one
	// document. Zero or negative means sequential.
	PageConcurrency int

	// MinSuccessRatio is the fraction of pages that must extract for the
	// document to succeed. The default 0 never fails a document outright
	// on partial page loss; failures surface as warnings only.
	MinSuccessRatio float64
}

// Runner drives per-page text extraction for images and PDFs.
type Runner struct {
	extractor TextExtractor
	opts      Options
}

// NewRunner wires a Runner to a TextExtractor.
func NewRunner(extractor TextExtractor, opts Options) *Runner {
	if opts.PageConcurrency < 1 {
		opts.PageConcurrency = 1
	}
	return &Runner{extractor: extractor, opts: opts}
}

// Image extracts a single image into a one-page document. A failed pass
// keeps the page slot with OK=false, consistent with the PDF path.
func (r *Runner) Image(ctx context.Context, sourceKey, mimeType string, data []byte) (*Document, []string, error) {
	return r.extractPages(ctx, sourceKey, mimeType, [][]byte{data})
}

// PDF splits the document into single-page PDFs and extracts each page
// independently. Page order is preserved; a page's failure never aborts
// the remaining pages.
func (r *Runner) PDF(ctx context.Context, sourceKey string, data []byte) (*Document, []string, error) {
	pages, warnings, err := splitPDF(data, r.opts.MaxPages)
	if err != nil {
		return nil, nil, err
	}

	doc, pageWarnings, err := r.extractPages(ctx, sourceKey, "application/pdf", pages)
	if err != nil {
		return nil, nil, err
	}
	return doc, append(warnings, pageWarnings...), nil
}

// extractPages runs the extractor over each page concurrently (bounded),
// reassembles results in page order, and applies the success-ratio policy.
func (r *Runner) extractPages(ctx context.Context, sourceKey, mimeType string, pages [][]byte) (*Document, []string, error) {
	doc := &Document{
		SourceKey: sourceKey,
		Pages:     make([]Page, len(pages)),
	}

	var mu sync.Mutex
	var warnings []string

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.PageConcurrency)

	for i, pageData := range pages {
		eg.Go(func() error {
			text, err := r.extractor.ExtractText(gctx, mimeType, pageData)
			if err != nil {
				// Abort the whole document only on cancellation; any other
				// failure is page-local.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				doc.Pages[i] = Page{Number: i + 1, OK: false}
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("page %d: extraction failed: %v", i+1, err))
				mu.Unlock()
				return nil
			}
			doc.Pages[i] = Page{Number: i + 1, Text: text, OK: true}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	if ratio := doc.SuccessRatio(); ratio < r.opts.MinSuccessRatio {
		return nil, nil, fmt.Errorf("%w: %d of %d pages extracted (%.0f%% < %.0f%% required)",
			ErrTooManyPageFailures, len(doc.Pages)-len(doc.FailedPages()), len(doc.Pages),
			ratio*100, r.opts.MinSuccessRatio*100)
	}

	return doc, warnings, nil
}

// splitPDF writes the document to a temp dir, optimizes it with relaxed
// validation, and splits it into single-page files. Returns page bytes in
// page order, capped at maxPages.
func splitPDF(data []byte, maxPages int) ([][]byte, []string, error) {
	tempDir, err := os.MkdirTemp("", "quarry-pdf-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, data, 0o600); err != nil {
		return nil, nil, fmt.Errorf("write source pdf: %w", err)
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(sourcePath, optimizedPath, cfg); err != nil {
		return nil, nil, fmt.Errorf("optimize pdf: %w", err)
	}

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, nil, fmt.Errorf("count pdf pages: %w", err)
	}

	var warnings []string
	if maxPages > 0 && pageCount > maxPages {
		warnings = append(warnings, fmt.Sprintf(
			"document has %d pages; only the first %d were extracted", pageCount, maxPages))
		pageCount = maxPages
	}

	if err := api.SplitFile(optimizedPath, tempDir, 1, nil); err != nil {
		return nil, nil, fmt.Errorf("split pdf: %w", err)
	}

	pages := make([][]byte, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pagePath := filepath.Join(tempDir, fmt.Sprintf("optimized_%d.pdf", i))
		pageData, err := os.ReadFile(pagePath)
		if err != nil {
			return nil, nil, fmt.Errorf("read split page %d: %w", i, err)
		}
		pages = append(pages, pageData)
	}

	return pages, warnings, nil
}
