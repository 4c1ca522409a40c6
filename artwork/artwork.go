// Package artwork prepares channel photos: album covers downloaded and squared
// to a Telegram-friendly JPEG, and the plain placeholder used when idle.
package artwork

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

const (
	// MaxSide bounds the longest edge of a processed cover.
	MaxSide = 640
	// PlaceholderSide is the edge of the idle placeholder image.
	PlaceholderSide = 512

	maxDownload = 5 << 20
)

// Fetcher downloads and normalizes cover images.
type Fetcher struct {
	hc *http.Client

	placeholderOnce sync.Once
	placeholder     []byte
	placeholderErr  error
}

// NewFetcher returns a Fetcher; a nil client gets a 10s-timeout default.
func NewFetcher(hc *http.Client) *Fetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Fetcher{hc: hc}
}

// Cover downloads url and returns a square JPEG no larger than MaxSide.
func (f *Fetcher) Cover(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download cover: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download cover: %s", resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("read cover: %w", err)
	}
	if len(raw) > maxDownload {
		return nil, fmt.Errorf("cover larger than %d bytes", maxDownload)
	}
	return Normalize(raw)
}

// Normalize center-crops an encoded image to a square, shrinks it to at most
// MaxSide and re-encodes it as JPEG.
func Normalize(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode cover: %w", err)
	}
	b := img.Bounds()
	side := min(b.Dx(), b.Dy(), MaxSide)
	if side <= 0 {
		return nil, fmt.Errorf("decode cover: empty image")
	}
	out := imaging.Fill(img, side, side, imaging.Center, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}
	return buf.Bytes(), nil
}

// Placeholder returns a white PlaceholderSide square PNG, generated once.
func (f *Fetcher) Placeholder() ([]byte, error) {
	f.placeholderOnce.Do(func() {
		img := imaging.New(PlaceholderSide, PlaceholderSide, color.White)
		var buf bytes.Buffer
		f.placeholderErr = imaging.Encode(&buf, img, imaging.PNG)
		f.placeholder = buf.Bytes()
	})
	return f.placeholder, f.placeholderErr
}
