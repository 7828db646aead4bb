package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/retrieval"
)

const pharmEasyBase = "https://pharmeasy.in"

const (
	pharmEasyItemSelector = `[role="menuitem"]`
	pharmEasyMenuWait     = 5 * time.Second
)

// PharmEasy reads the typeahead menu that pharmeasy.in renders for a search.
type PharmEasy struct {
	opts   Options
	logger *zap.Logger
}

// NewPharmEasy returns the pharmeasy adapter.
func NewPharmEasy(opts Options) *PharmEasy {
	return &PharmEasy{opts: opts, logger: opts.logger(retrieval.SourcePharmEasy)}
}

// Source implements retrieval.Adapter.
func (p *PharmEasy) Source() retrieval.Source { return retrieval.SourcePharmEasy }

// Fetch implements retrieval.Adapter.
func (p *PharmEasy) Fetch(ctx context.Context, keyword string, browsers retrieval.Browsers) retrieval.Result {
	sess, err := begin(ctx, p.opts, p.Source(), browsers)
	if err != nil {
		return retrieval.Failure(err)
	}
	defer sess.Close()

	target := pharmEasyBase + "/search/all?name=" + encodeComponent(keyword)
	if err := sess.Navigate(target); err != nil {
		return retrieval.Failure(err)
	}
	// A missing menu is reported by ParsePharmEasy below.
	if err := sess.WaitVisible(pharmEasyItemSelector, pharmEasyMenuWait); err != nil {
		p.logger.Debug("menu did not appear", zap.Error(err))
	}
	items, err := sess.OuterHTMLAll(pharmEasyItemSelector)
	if err != nil {
		return retrieval.Failure(fmt.Errorf("%w: %w", retrieval.ErrExtraction, err))
	}
	fragment := strings.Join(items, "\n")
	p.opts.Artifacts.Capture(ctx, string(p.Source()), keyword, "html", []byte(fragment))

	products, err := ParsePharmEasy(fragment)
	if err != nil {
		return retrieval.Failure(err)
	}
	return retrieval.Success(products, len(products), "")
}

// ParsePharmEasy extracts products from menu item markup. Markup without any
// menu item is an extraction failure. The placeholder item with data-id="0"
// and items lacking a name or link are skipped, so a menu of only those is a
// search with no products.
func ParsePharmEasy(html string) ([]retrieval.Product, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("%w: %w", retrieval.ErrExtraction, errNoMenuItems)
	}
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	items := doc.Find(pharmEasyItemSelector)
	if items.Length() == 0 {
		return nil, fmt.Errorf("%w: %w", retrieval.ErrExtraction, errNoMenuItems)
	}
	products := []retrieval.Product{}
	items.Each(func(_ int, item *goquery.Selection) {
		if item.AttrOr("data-id", "") == "0" {
			return
		}
		prod, ok := pharmEasyProduct(item)
		if ok {
			products = append(products, prod)
		}
	})
	return products, nil
}

func pharmEasyProduct(item *goquery.Selection) (retrieval.Product, bool) {
	name := squash(item.Find(".ProductCard_medicineName__Uzjm7").First().Text())
	href := strings.TrimSpace(item.Find("a").First().AttrOr("href", ""))
	if href == "" {
		// The menu item itself may be the anchor.
		href = strings.TrimSpace(item.AttrOr("href", ""))
	}
	if name == "" || href == "" {
		return retrieval.Product{}, false
	}

	brand := squash(item.Find(".ProductCard_brandName__p8vDS").First().Text())
	brand = strings.TrimSpace(strings.TrimPrefix(brand, "By "))
	discount := squash(item.Find(".ProductCard_gcdDiscountPercent__Dl0UK").First().Text())
	discount = strings.TrimSpace(strings.TrimSuffix(discount, "% OFF"))

	return retrieval.Product{
		Name:         name,
		Manufacturer: brand,
		PackSize:     squash(item.Find(".ProductCard_measurementUnit__utxiv").First().Text()),
		SellingPrice: parsePrice(item.Find(".ProductCard_ourPrice__yU5GB").First().Text()),
		MRP:          parsePrice(item.Find(".ProductCard_originalMrp__9osyn .ProductCard_striked__OoYd9").First().Text()),
		Discount:     discount,
		Currency:     "INR",
		URL:          resolve(pharmEasyBase, href),
		ImageURL:     imageURL(item.Find("img.ProductCard_productImage__LUmca").First(), "src", "srcset"),
	}, true
}
