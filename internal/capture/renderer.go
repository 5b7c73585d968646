// Package capture renders listing pages in a headless browser and
// screenshots the listing card, producing image artifacts for delivery.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/peedubyah/tradebot/internal/domain"
)

// cardSelector locates the listing card element on a listing page.
const cardSelector = `.relative.mx-auto.h-fit.w-64.border-\[20px\].sm\:w-72.sm\:border-\[24px\].flip-card-face`

const defaultNavTimeout = 60 * time.Second

// Renderer captures listing card screenshots. Each capture runs in a
// fresh browser context that is torn down before Capture returns,
// success or failure.
type Renderer struct {
	baseURL  string
	selector string
	dir      string
	timeout  time.Duration
}

// NewRenderer creates a Renderer writing image files under dir.
func NewRenderer(baseURL, dir string) *Renderer {
	return &Renderer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		selector: cardSelector,
		dir:      dir,
		timeout:  defaultNavTimeout,
	}
}

// WithTimeout overrides the navigation timeout.
func (r *Renderer) WithTimeout(d time.Duration) *Renderer {
	r.timeout = d
	return r
}

// WithSelector overrides the card element selector.
func (r *Renderer) WithSelector(sel string) *Renderer {
	r.selector = sel
	return r
}

func (r *Renderer) pageURL(itemID string) string {
	return r.baseURL + "/listings/items/" + itemID
}

// Capture renders the item's listing page and screenshots the card
// element. Timeouts, navigation failures and a missing card element all
// surface as *domain.CaptureError; the browser context never outlives
// the call.
func (r *Renderer) Capture(ctx context.Context, itemID string) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var buf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(r.pageURL(itemID)),
		chromedp.WaitVisible(r.selector, chromedp.ByQuery),
		chromedp.Screenshot(r.selector, &buf, chromedp.NodeVisible, chromedp.ByQuery),
	)
	if err != nil {
		return nil, &domain.CaptureError{ItemID: itemID, Err: err}
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.png", itemID, uuid.NewString()))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return nil, &domain.CaptureError{ItemID: itemID, Err: fmt.Errorf("write image: %w", err)}
	}

	return &Artifact{ItemID: itemID, Path: path}, nil
}
