package form

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var (
	rowSel       = mustSelector(RowSelector)
	statusSel    = mustSelector(StatusSelector)
	containerSel = mustSelector(ContainerSelector)
	templateSel  = mustSelector(TemplateSelector)
	tokenSel     = mustSelector(TokenFieldSelector)
	fileInputSel = mustSelector(FileInputSelector)
	clearableSel = mustSelector(ClearableSelector)
	disabledSel  = mustSelector("[disabled]")
)

// RowID returns the identifier of the nearest ancestor of n carrying a row
// marker, or "" when n is not inside a row.
func (d *Document) RowID(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return getAttr(closest(n, rowSel), RowIDAttr)
}

// RowIDs lists the identifiers of every row currently in the document.
func (d *Document) RowIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []string
	for _, n := range cascadia.QueryAll(d.root, rowSel) {
		ids = append(ids, getAttr(n, RowIDAttr))
	}
	return ids
}

// Row returns the element of row rowID.
func (d *Document) Row(rowID string) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findRow(rowID)
}

// RowFileInput returns the multi-file input of row rowID.
func (d *Document) RowFileInput(rowID string) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	row := d.findRow(rowID)
	if row == nil {
		return nil
	}
	return queryFirst(row, fileInputSel)
}

// CSRFToken returns the value of the hidden anti-forgery field, or "" when
// the page has none.
func (d *Document) CSRFToken() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return getAttr(cascadia.Query(d.root, tokenSel), "value")
}

// Value returns the value of an input or the text of a textarea.
func (d *Document) Value(n *html.Node) string {
	if n == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if n.Data == "textarea" {
		return textContent(n)
	}
	return getAttr(n, "value")
}

// SetValue sets the value of an input or the text of a textarea. A nil node
// is ignored.
func (d *Document) SetValue(n *html.Node, v string) {
	if n == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	setValue(n, v)
}

// CloneRow appends a copy of the template row of the items container
// enclosing trigger, inserted right before trigger, and tags it with rowID.
// Every non-file field of the copy is cleared and enabled, since the
// template keeps its controls disabled to stay out of form submissions. It
// reports false when the container or its template row is missing.
func (d *Document) CloneRow(trigger *html.Node, rowID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if trigger == nil || trigger.Parent == nil {
		return false
	}
	container := closest(trigger, containerSel)
	if container == nil {
		return false
	}
	tmpl := queryFirst(container, templateSel)
	if tmpl == nil {
		return false
	}

	row := cloneNode(tmpl)
	removeClass(row, TemplateClass)
	addClass(row, RowClass)
	setAttr(row, RowIDAttr, rowID)
	removeAttr(row, "hidden")
	for _, n := range cascadia.QueryAll(row, disabledSel) {
		removeAttr(n, "disabled")
	}

	for _, field := range cascadia.QueryAll(row, clearableSel) {
		if field.Data == "input" && getAttr(field, "type") == "file" {
			continue
		}
		setValue(field, "")
	}

	trigger.Parent.InsertBefore(row, trigger)
	return true
}

// Attached reports whether n is still part of the document.
func (d *Document) Attached(n *html.Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return attached(d.root, n)
}

// Remove detaches n from the document.
func (d *Document) Remove(n *html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func (d *Document) findRow(rowID string) *html.Node {
	for _, n := range cascadia.QueryAll(d.root, rowSel) {
		if getAttr(n, RowIDAttr) == rowID {
			return n
		}
	}
	return nil
}

// queryFirst searches the descendants of n only.
func queryFirst(n *html.Node, sel cascadia.Matcher) *html.Node {
	return cascadia.Query(n, sel)
}

func setValue(n *html.Node, v string) {
	if n.Data == "textarea" {
		removeChildren(n)
		if v != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: v})
		}
		return
	}
	setAttr(n, "value", v)
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
