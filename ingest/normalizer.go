// Package ingest turns wiki pages into searchable chunks: storage-format
// HTML normalization, link extraction, token-bounded chunking, and
// embedding.
package ingest

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/confluence-qa/models"
)

// ParsedLink is one outgoing reference found in a page body.
type ParsedLink struct {
	URL      string
	Text     string
	LinkType models.LinkType
	// PageID is set for internal links whose target id is visible in the
	// URL. Title-only references stay unresolved.
	PageID string
}

// Normalizer converts Confluence storage-format HTML into clean plain
// text and extracts outgoing links.
type Normalizer struct {
	baseURL string
}

func NewNormalizer(baseURL string) *Normalizer {
	return &Normalizer{baseURL: strings.TrimRight(baseURL, "/")}
}

// Macros whose body content survives normalization.
var bodyMacros = map[string]bool{
	"panel":   true,
	"info":    true,
	"warning": true,
	"note":    true,
	"tip":     true,
	"expand":  true,
}

// Navigation macros carry no content worth indexing.
var navigationMacros = map[string]bool{
	"toc":      true,
	"toc-zone": true,
	"children": true,
	"pagetree": true,
}

// ToText converts storage-format HTML to plain text. Headings become
// markdown markers so the chunker can recover the document outline,
// code macros become fenced blocks, and navigation macros are dropped.
func (n *Normalizer) ToText(htmlContent string) string {
	if strings.TrimSpace(htmlContent) == "" {
		return ""
	}

	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return CleanText(htmlContent)
	}

	var sb strings.Builder
	renderNode(&sb, root)
	return CleanText(sb.String())
}

func renderNode(sb *strings.Builder, node *html.Node) {
	switch node.Type {
	case html.TextNode:
		if text := node.Data; strings.TrimSpace(text) != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
		return

	case html.ElementNode:
		switch node.Data {
		case "script", "style", "noscript":
			return
		case "br":
			sb.WriteString("\n")
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(node.Data[1] - '0')
			if text := strings.TrimSpace(collectText(node)); text != "" {
				sb.WriteString("\n\n")
				sb.WriteString(strings.Repeat("#", level))
				sb.WriteString(" ")
				sb.WriteString(text)
				sb.WriteString("\n\n")
			}
			return
		case "ac:structured-macro":
			renderMacro(sb, node)
			return
		}
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		renderNode(sb, child)
	}
}

func renderMacro(sb *strings.Builder, node *html.Node) {
	name := attr(node, "ac:name")

	switch {
	case name == "code":
		if body := findElement(node, "ac:plain-text-body"); body != nil {
			sb.WriteString("\n```\n")
			sb.WriteString(strings.TrimSpace(collectText(body)))
			sb.WriteString("\n```\n")
		}

	case bodyMacros[name]:
		if body := findElement(node, "ac:rich-text-body"); body != nil {
			for child := body.FirstChild; child != nil; child = child.NextSibling {
				renderNode(sb, child)
			}
		}

	case navigationMacros[name]:
		// dropped

	default:
		// Unknown macro: keep whatever readable content it carries.
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			renderNode(sb, child)
		}
	}
}

// ExtractLinks finds all outgoing links in a page body. Self-links,
// anchors, and javascript hrefs are dropped; duplicates collapse on URL.
func (n *Normalizer) ExtractLinks(htmlContent, currentPageID string) []ParsedLink {
	if strings.TrimSpace(htmlContent) == "" {
		return nil
	}

	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}

	var links []ParsedLink
	walkElements(root, func(node *html.Node) bool {
		switch node.Data {
		case "ac:link":
			if link := n.parseConfluenceLink(node); link != nil && link.PageID != currentPageID {
				links = append(links, *link)
			}
			// a tags inside ac:link bodies are part of the same link
			return false
		case "a":
			if link := n.parseAnchor(node, currentPageID); link != nil {
				links = append(links, *link)
			}
		}
		return true
	})

	seen := make(map[string]bool, len(links))
	unique := links[:0]
	for _, link := range links {
		if !seen[link.URL] {
			seen[link.URL] = true
			unique = append(unique, link)
		}
	}
	return unique
}

func (n *Normalizer) parseConfluenceLink(node *html.Node) *ParsedLink {
	if pageRef := findElement(node, "ri:page"); pageRef != nil {
		title := attr(pageRef, "ri:content-title")
		spaceKey := attr(pageRef, "ri:space-key")

		text := linkBodyText(node)
		if text == "" {
			text = title
		}

		var linkURL string
		if spaceKey != "" {
			linkURL = n.baseURL + "/spaces/" + spaceKey + "/pages?title=" + url.QueryEscape(title)
		} else {
			linkURL = n.baseURL + "/pages?title=" + url.QueryEscape(title)
		}
		return &ParsedLink{URL: linkURL, Text: text, LinkType: models.LinkTypeInternal}
	}

	if attachment := findElement(node, "ri:attachment"); attachment != nil {
		filename := attr(attachment, "ri:filename")
		text := linkBodyText(node)
		if text == "" {
			text = filename
		}
		return &ParsedLink{URL: "attachment:" + filename, Text: text, LinkType: models.LinkTypeAttachment}
	}

	if urlRef := findElement(node, "ri:url"); urlRef != nil {
		target := attr(urlRef, "ri:value")
		if target == "" {
			return nil
		}
		text := linkBodyText(node)
		if text == "" {
			text = target
		}
		return &ParsedLink{URL: target, Text: text, LinkType: n.classify(target)}
	}

	return nil
}

func (n *Normalizer) parseAnchor(node *html.Node, currentPageID string) *ParsedLink {
	href := attr(node, "href")
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return nil
	}

	linkType := n.classify(href)

	var pageID string
	if linkType == models.LinkTypeInternal {
		pageID = ExtractPageID(href)
		if pageID != "" && pageID == currentPageID {
			return nil
		}
	}

	text := strings.TrimSpace(collectText(node))
	if text == "" {
		text = href
	}
	return &ParsedLink{URL: href, Text: text, LinkType: linkType, PageID: pageID}
}

func (n *Normalizer) classify(rawURL string) models.LinkType {
	if strings.HasPrefix(rawURL, "attachment:") || strings.Contains(rawURL, "/attachments/") {
		return models.LinkTypeAttachment
	}

	parsedBase, errBase := url.Parse(n.baseURL)
	parsed, err := url.Parse(rawURL)
	if errBase == nil && err == nil {
		sameHost := parsed.Host == "" || parsed.Host == parsedBase.Host
		if sameHost && (strings.Contains(rawURL, "/wiki/") || strings.Contains(rawURL, "/pages/") || strings.Contains(rawURL, "/spaces/")) {
			return models.LinkTypeInternal
		}
	}
	return models.LinkTypeExternal
}

var pageIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`pageId=(\d+)`),
	regexp.MustCompile(`/pages/(\d+)`),
	regexp.MustCompile(`/wiki/spaces/\w+/pages/(\d+)`),
}

// ExtractPageID pulls a numeric page id out of a wiki URL, if present.
func ExtractPageID(rawURL string) string {
	for _, pattern := range pageIDPatterns {
		if m := pattern.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
	}
	return ""
}

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// CleanText collapses runs of spaces and blank lines and trims every
// line. At most one blank line survives between paragraphs.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = spaceRuns.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func linkBodyText(node *html.Node) string {
	for _, name := range []string{"ac:link-body", "ac:plain-text-link-body"} {
		if body := findElement(node, name); body != nil {
			return strings.TrimSpace(collectText(body))
		}
	}
	return ""
}

func attr(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collectText gathers the text content under a node. Storage format wraps
// plain-text bodies in CDATA sections, which the parser surfaces as
// comment nodes, so those are unwrapped here too.
func collectText(node *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.CommentNode:
			if data, ok := strings.CutPrefix(n.Data, "[CDATA["); ok {
				sb.WriteString(strings.TrimSuffix(data, "]]"))
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return sb.String()
}

func findElement(node *html.Node, name string) *html.Node {
	var found *html.Node
	walkElements(node, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n != node && n.Data == name {
			found = n
			return false
		}
		return true
	})
	return found
}

// walkElements visits element nodes depth-first. Returning false from fn
// skips the node's children.
func walkElements(node *html.Node, fn func(*html.Node) bool) {
	if node.Type == html.ElementNode {
		if !fn(node) {
			return
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walkElements(child, fn)
	}
}
