package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/browser"
	"github.com/JakeFAU/medprice/internal/retrieval"
	"github.com/JakeFAU/medprice/internal/scan"
)

const netmedsBase = "https://www.netmeds.com"

const netmedsDescriptionLimit = 500

var (
	netmedsItemsMarker = regexp.MustCompile(`"items"\s*:\s*\[`)
	escapedUnicode     = regexp.MustCompile(`\\u[0-9A-Fa-f]{4}`)
)

// netmedsAttributes maps upstream attribute keys onto the names we expose.
var netmedsAttributes = map[string]string{
	"genericname":           "generic_name",
	"genericnamewithdosage": "generic_with_dosage",
	"ingredients":           "ingredients",
	"marketername":          "marketer",
	"manufacturername":      "manufacturer",
	"dosage":                "dosage",
	"dosageunit":            "dosage_unit",
	"packsize":              "pack_size",
	"packsizeunit":          "pack_size_unit",
	"itemtype":              "item_type",
	"mrp":                   "mrp",
	"schedule":              "schedule",
}

// Netmeds loads the netmeds.com search page and decodes the product list the
// server embeds in the document.
type Netmeds struct {
	opts   Options
	logger *zap.Logger
}

// NewNetmeds returns the netmeds adapter.
func NewNetmeds(opts Options) *Netmeds {
	return &Netmeds{opts: opts, logger: opts.logger(retrieval.SourceNetmeds)}
}

// Source implements retrieval.Adapter.
func (n *Netmeds) Source() retrieval.Source { return retrieval.SourceNetmeds }

// Fetch implements retrieval.Adapter.
func (n *Netmeds) Fetch(ctx context.Context, keyword string, browsers retrieval.Browsers) retrieval.Result {
	sess, err := begin(ctx, n.opts, n.Source(), browsers)
	if err != nil {
		return retrieval.Failure(err)
	}
	defer sess.Close()

	target := netmedsBase + "/products?q=" + encodeComponent(keyword) + "&sort_on=relevance"
	body, err := sess.Capture(target, browser.ResponseMatch{
		URL:  target,
		Type: network.ResourceTypeDocument,
	})
	document := string(body)
	if err != nil {
		if ctx.Err() != nil {
			return retrieval.Failure(ctx.Err())
		}
		n.logger.Debug("document response not captured, reading rendered page", zap.Error(err))
		document, err = sess.OuterHTML("html")
		if err != nil {
			return retrieval.Failure(fmt.Errorf("%w: failed to capture HTML response: %w", retrieval.ErrExtraction, err))
		}
	}
	n.opts.Artifacts.Capture(ctx, string(n.Source()), keyword, "html", []byte(document))

	products, total, err := ParseNetmeds(document)
	if err != nil {
		return retrieval.Failure(err)
	}
	return retrieval.Success(products, total, fmt.Sprintf("Netmeds: Found %d products", total))
}

type netmedsItem struct {
	Name        string                     `json:"name"`
	Slug        string                     `json:"slug"`
	UID         json.RawMessage            `json:"uid"`
	ItemCode    json.RawMessage            `json:"item_code"`
	BrandName   json.RawMessage            `json:"brand_name"`
	Discount    json.RawMessage            `json:"discount"`
	Description string                     `json:"description"`
	URL         string                     `json:"url"`
	Categories  []struct{ Name string }    `json:"categories"`
	Medias      []struct{ URL string }     `json:"medias"`
	Attributes  map[string]json.RawMessage `json:"attributes"`
	Price       *struct {
		Effective *struct {
			Min          *float64 `json:"min"`
			CurrencyCode string   `json:"currency_code"`
		} `json:"effective"`
		Marked *struct {
			Min *float64 `json:"min"`
		} `json:"marked"`
	} `json:"price"`
}

// ParseNetmeds finds the embedded items array in document and normalizes
// every entry. It returns the products and how many items were listed.
func ParseNetmeds(document string) ([]retrieval.Product, int, error) {
	if strings.TrimSpace(document) == "" {
		return nil, 0, fmt.Errorf("%w: %w", retrieval.ErrExtraction, errNoDocument)
	}
	segment, err := scan.Segment(document, netmedsItemsMarker)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: items array: %w", retrieval.ErrExtraction, err)
	}
	var items []netmedsItem
	if err := json.Unmarshal([]byte(segment), &items); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to parse products: %w", retrieval.ErrExtraction, err)
	}
	products := make([]retrieval.Product, 0, len(items))
	for _, item := range items {
		products = append(products, item.product())
	}
	return products, len(items), nil
}

func (it netmedsItem) product() retrieval.Product {
	info := make(map[string]string, len(netmedsAttributes))
	for from, to := range netmedsAttributes {
		if v := rawString(it.Attributes[from]); v != "" {
			info[to] = v
		}
	}

	p := retrieval.Product{
		Name:         it.Name,
		Manufacturer: info["manufacturer"],
		PackSize:     strings.TrimSpace(info["pack_size"] + " " + info["pack_size_unit"]),
		PackForm:     info["item_type"],
		Discount:     rawString(it.Discount),
		Composition:  firstNonEmpty(info["ingredients"], info["generic_with_dosage"], info["generic_name"]),
		Attributes:   info,
	}
	if p.Manufacturer == "" {
		p.Manufacturer = rawString(it.BrandName)
	}
	if it.URL != "" {
		p.URL = netmedsBase + it.URL
	}
	if len(it.Medias) > 0 {
		p.ImageURL = it.Medias[0].URL
	}
	if it.Price != nil && it.Price.Effective != nil {
		p.SellingPrice = it.Price.Effective.Min
		p.Currency = it.Price.Effective.CurrencyCode
		if it.Price.Marked != nil {
			p.MRP = it.Price.Marked.Min
		}
	}
	if p.SellingPrice != nil && *p.SellingPrice > 0 {
		if n := leadingInt(info["pack_size"]); n > 0 {
			v := *p.SellingPrice / float64(n)
			p.PricePerUnit = &v
		}
	}

	if desc := cleanDescription(it.Description); desc != "" {
		info["description"] = desc
	}
	if len(it.Categories) > 0 {
		names := make([]string, 0, len(it.Categories))
		for _, c := range it.Categories {
			names = append(names, c.Name)
		}
		info["categories"] = strings.Join(names, ", ")
	}
	for key, raw := range map[string]json.RawMessage{"uid": it.UID, "item_code": it.ItemCode} {
		if v := rawString(raw); v != "" {
			info[key] = v
		}
	}
	if it.Slug != "" {
		info["slug"] = it.Slug
	}
	if len(info) == 0 {
		p.Attributes = nil
	}
	return p
}

// cleanDescription reduces a description fragment to its text, with element
// boundaries read as spaces, and keeps at most netmedsDescriptionLimit
// characters.
func cleanDescription(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := newDocument(s)
	if err != nil {
		return ""
	}
	var b strings.Builder
	spacedText(doc.Find("body"), &b)
	s = escapedUnicode.ReplaceAllString(b.String(), "")
	s = squash(s)
	if r := []rune(s); len(r) > netmedsDescriptionLimit {
		s = strings.TrimSpace(string(r[:netmedsDescriptionLimit]))
	}
	return s
}

func spacedText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			b.WriteString(c.Text())
		case "#comment", "script", "style":
		default:
			b.WriteByte(' ')
			spacedText(c, b)
			b.WriteByte(' ')
		}
	})
}

// rawString renders a scalar JSON value as text. Null, objects and arrays
// read as empty.
func rawString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	switch trimmed[0] {
	case '{', '[':
		return ""
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	default:
		return trimmed
	}
}

// leadingInt parses the leading integer of s like JavaScript's parseInt.
func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
