// Package form models the request form a browser would render: an HTML tree
// with delegated event listeners, the file lists attached to file inputs and
// the status indicators of each item row.
package form

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Selectors of the DOM contract shared with the server-rendered template.
const (
	RowSelector         = "[data-row-id]"
	StatusSelector      = ".upload-status"
	ContainerSelector   = ".items-container"
	TemplateSelector    = ".item-row-template"
	AddRowSelector      = ".add-item-row"
	TokenFieldSelector  = "[name=csrfmiddlewaretoken]"
	FileInputSelector   = "input[type=file][multiple]"
	ClearableSelector   = "input, textarea"
	RowIDAttr           = "data-row-id"
	TemplateClass       = "item-row-template"
	RowClass            = "item-row"
	AddRowClass         = "add-item-row"
	StatusClass         = "upload-status"
	DefaultFormSelector = "#request-form"
)

// Document is a parsed form page. All methods are safe for concurrent use;
// listeners run without the document lock held.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	files     map[*html.Node][]File
	listeners map[*html.Node]map[string][]Listener
	labels    StatusLabels
}

// Option configures a Document.
type Option func(*Document) error

// WithLocale selects the status label locale from the embedded catalog.
func WithLocale(locale string) Option {
	return func(d *Document) error {
		catalog, err := LoadCatalog()
		if err != nil {
			return err
		}
		d.labels = catalog.Labels(locale)
		return nil
	}
}

// WithLabels sets the status labels directly.
func WithLabels(labels StatusLabels) Option {
	return func(d *Document) error {
		d.labels = labels
		return nil
	}
}

// Parse reads an HTML page into a Document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing form document: %w", err)
	}

	d := &Document{
		root:      root,
		files:     make(map[*html.Node][]File),
		listeners: make(map[*html.Node]map[string][]Listener),
	}
	if len(opts) == 0 {
		opts = []Option{WithLocale(DefaultLocale)}
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ParseString is Parse for an in-memory page.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// Render writes the current tree as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document, returning an empty string on error.
func (d *Document) String() string {
	var sb strings.Builder
	if err := d.Render(&sb); err != nil {
		return ""
	}
	return sb.String()
}

// Query returns the first element matching selector, or nil.
func (d *Document) Query(selector string) *html.Node {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return cascadia.Query(d.root, sel)
}

// QueryAll returns every element matching selector in document order.
func (d *Document) QueryAll(selector string) []*html.Node {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return cascadia.QueryAll(d.root, sel)
}

// Closest walks from n up to the root and returns the first element matching
// selector, including n itself.
func (d *Document) Closest(n *html.Node, selector string) *html.Node {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return closest(n, sel)
}

// Attr returns the value of attribute key on n.
func (d *Document) Attr(n *html.Node, key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return getAttr(n, key)
}

// HasClass reports whether n carries class.
func (d *Document) HasClass(n *html.Node, class string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return hasClass(n, class)
}

func closest(n *html.Node, sel cascadia.Matcher) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && sel.Match(p) {
			return p
		}
	}
	return nil
}

func getAttr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, attr := range n.Attr {
		if attr.Key != key {
			kept = append(kept, attr)
		}
	}
	n.Attr = kept
}

func hasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func addClass(n *html.Node, class string) {
	if hasClass(n, class) {
		return
	}
	classes := strings.Fields(getAttr(n, "class"))
	setAttr(n, "class", strings.Join(append(classes, class), " "))
}

func removeClass(n *html.Node, class string) {
	var kept []string
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c != class {
			kept = append(kept, c)
		}
	}
	setAttr(n, "class", strings.Join(kept, " "))
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// cloneNode deep-copies n and its subtree. The copy has no parent.
func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      make([]html.Attribute, len(n.Attr)),
	}
	copy(c.Attr, n.Attr)
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

// attached reports whether n is still part of the tree rooted at root.
func attached(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// parseSelector accepts selector groups such as "input, textarea".
func parseSelector(selector string) (cascadia.Matcher, error) {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return group, nil
}

// mustSelector is used for the selectors of the DOM contract.
func mustSelector(selector string) cascadia.Matcher {
	m, err := parseSelector(selector)
	if err != nil {
		panic(err)
	}
	return m
}
