package engine

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"scene-forge/internal/runstore"
)

// LatestImageURL returns the absolute source of the last rendered image in
// the page markup.
func LatestImageURL(html, base string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	sel := doc.Find(renderSelector()).Last()
	src, ok := sel.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", errors.New("no rendered image on page")
	}
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return "", fmt.Errorf("parse image src %q: %w", src, err)
	}
	if ref.IsAbs() || strings.TrimSpace(base) == "" {
		return ref.String(), nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func renderSelector() string {
	parts := make([]string, 0, len(renderedImage.Candidates))
	for _, c := range renderedImage.Candidates {
		parts = append(parts, c.Expr)
	}
	return strings.Join(parts, ", ")
}

// CaptureLatest downloads the newest render through the page's own session
// and writes it under CaptureDir with a timestamped name.
func (f *ImageFlow) CaptureLatest(ctx context.Context) (string, error) {
	if _, err := f.page.Resolve(ctx, renderedImage); err != nil {
		return "", err
	}
	html, err := f.page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	src, err := LatestImageURL(html, f.opts.BaseURL)
	if err != nil {
		return "", err
	}
	res, err := f.page.Fetch(ctx, src)
	if err != nil {
		return "", err
	}
	if res.Status < 200 || res.Status >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", src, res.Status)
	}
	if !strings.Contains(strings.ToLower(res.ContentType), "image") {
		return "", fmt.Errorf("fetch %s: unexpected content type %q", src, res.ContentType)
	}

	name := fmt.Sprintf("img_%d%s", f.opts.Now().Unix(), imageExt(res.ContentType))
	path := filepath.Join(f.opts.CaptureDir, name)
	if err := runstore.WriteBytes(path, res.Body); err != nil {
		return "", err
	}
	f.log.Debug("Render captured.", zap.String("src", src), zap.Int("bytes", len(res.Body)))
	return path, nil
}

func imageExt(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".png"
	}
	switch mt {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
