// Package render builds the HTML preview of a post and the editor's character and line metrics.
package render

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gomarkdown/markdown"
	md_html "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/cache"
	"github.com/debemdeboas/postdeck/internal/util"
)

var renderLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	renderLogger = l
}

// FeedVisibleLines is how many lines LinkedIn shows in the feed before "...see more".
const FeedVisibleLines = 3

// Metrics is what the editor footer shows under the text surface.
type Metrics struct {
	Chars     int    `json:"chars"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated"`
	Label     string `json:"label"`
}

// ComputeMetrics counts characters as runes. An empty post still has one line.
func ComputeMetrics(content string) Metrics {
	chars := utf8.RuneCountInString(content)
	lines := strings.Count(content, "\n") + 1

	lineWord := "lines"
	if lines == 1 {
		lineWord = "line"
	}

	return Metrics{
		Chars:     chars,
		Lines:     lines,
		Truncated: lines > FeedVisibleLines,
		Label:     fmt.Sprintf("%d chars • %d %s", chars, lines, lineWord),
	}
}

// FeedExcerpt returns the part of content visible in the feed and whether anything was cut.
func FeedExcerpt(content string) (string, bool) {
	lines := strings.SplitN(content, "\n", FeedVisibleLines+1)
	if len(lines) <= FeedVisibleLines {
		return content, false
	}
	return strings.Join(lines[:FeedVisibleLines], "\n"), true
}

// RenderPreview renders content as the feed would show it. Raw HTML in the post is dropped.
func RenderPreview(content []byte) []byte {
	content = markdown.NormalizeNewlines(content)

	p := parser.NewWithExtensions(
		parser.Autolink | parser.Strikethrough | parser.HardLineBreak | parser.NoIntraEmphasis,
	)
	r := md_html.NewRenderer(md_html.RendererOptions{
		Flags: md_html.CommonFlags | md_html.SkipHTML | md_html.HrefTargetBlank,
	})

	return markdown.ToHTML(content, p, r)
}

// Mutex to protect the check-render-set operation in RenderPreviewCached
var previewMutex sync.Mutex

func RenderPreviewCached(content string) []byte {
	hash := util.ContentHashString(content)

	if cached, found := cache.GetPreview(hash); found {
		renderLogger.Debug().Str("contentHash", hash).Msg("Cache hit for preview")
		return cached.HTML
	}

	previewMutex.Lock()
	defer previewMutex.Unlock()

	// Another caller may have rendered it while we waited
	if cached, found := cache.GetPreview(hash); found {
		return cached.HTML
	}

	renderLogger.Debug().Str("contentHash", hash).Msg("Cache miss for preview")
	html := RenderPreview([]byte(content))
	cache.SetPreview(hash, html)
	return html
}

// Preview is the rendered feed view of a post.
type Preview struct {
	HTML    string  `json:"html"`
	Excerpt string  `json:"excerpt"`
	SeeMore bool    `json:"see_more"`
	Metrics Metrics `json:"metrics"`
}

func BuildPreview(content string) Preview {
	excerpt, cut := FeedExcerpt(content)
	return Preview{
		HTML:    string(RenderPreviewCached(content)),
		Excerpt: string(RenderPreviewCached(excerpt)),
		SeeMore: cut,
		Metrics: ComputeMetrics(content),
	}
}
