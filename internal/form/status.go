package form

import (
	_ "embed"
	"fmt"

	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"gopkg.in/yaml.v3"
)

// DefaultLocale is the language of the dashboard.
const DefaultLocale = "ar"

//go:embed labels.yaml
var labelsYAML []byte

// Label is the icon and text shown for one status.
type Label struct {
	Icon string `yaml:"icon"`
	Text string `yaml:"text"`
}

// StatusLabels maps the visible statuses to their labels.
type StatusLabels map[models.UploadStatus]Label

// Catalog holds the status labels of every locale.
type Catalog map[string]StatusLabels

// LoadCatalog parses the embedded label catalog.
func LoadCatalog() (Catalog, error) {
	return ParseCatalog(labelsYAML)
}

// ParseCatalog parses a YAML label catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing label catalog: %w", err)
	}
	for locale, labels := range catalog {
		for status := range labels {
			if !status.Valid() {
				return nil, fmt.Errorf("locale %s: unknown status %q", locale, status)
			}
		}
	}
	return catalog, nil
}

// Labels returns the labels for locale, falling back to DefaultLocale.
func (c Catalog) Labels(locale string) StatusLabels {
	if labels, ok := c[locale]; ok {
		return labels
	}
	return c[DefaultLocale]
}

// UpdateRowStatus renders status into the indicator of row rowID. Rows or
// indicators that do not exist are ignored.
func (d *Document) UpdateRowStatus(rowID string, status models.UploadStatus) {
	if rowID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	row := d.findRow(rowID)
	if row == nil {
		return
	}
	indicator := queryFirst(row, statusSel)
	if indicator == nil {
		return
	}

	setAttr(indicator, "class", StatusClass)

	label, ok := d.labels[status]
	if !ok || status == models.UploadStatusReady {
		return
	}

	addClass(indicator, string(status))
	removeChildren(indicator)
	indicator.AppendChild(&html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.I,
		Data:     "i",
		Attr:     []html.Attribute{{Key: "class", Val: label.Icon}},
	})
	indicator.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: " " + label.Text,
	})
}

// StatusText returns the text of the indicator of row rowID and the status
// class it carries. ok is false when the row or indicator is missing.
func (d *Document) StatusText(rowID string) (text string, status models.UploadStatus, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	row := d.findRow(rowID)
	if row == nil {
		return "", "", false
	}
	indicator := queryFirst(row, statusSel)
	if indicator == nil {
		return "", "", false
	}

	status = models.UploadStatusReady
	for _, s := range []models.UploadStatus{
		models.UploadStatusUploading, models.UploadStatusCompleted,
		models.UploadStatusPartial, models.UploadStatusFailed,
	} {
		if hasClass(indicator, string(s)) {
			status = s
			break
		}
	}
	return textContent(indicator), status, true
}
