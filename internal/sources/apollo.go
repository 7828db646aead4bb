package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/medprice/internal/retrieval"
)

const apolloBase = "https://www.apollopharmacy.in"

const (
	apolloCardSelector  = `[data-qa="product-card"], .ProductCard_productCard, [class*="ProductCard"], [class*="product-card"]`
	apolloNameSelector  = `[data-qa="medicine_name"], [class*="medicineName"], [class*="product-name"], h2, .name`
	apolloPriceSelector = `[data-qa="price"], [class*="price"], .price`
)

// Apollo renders the apollopharmacy.in search page and reads product cards
// from the settled DOM.
type Apollo struct {
	opts   Options
	logger *zap.Logger
}

// NewApollo returns the apollo adapter.
func NewApollo(opts Options) *Apollo {
	return &Apollo{opts: opts, logger: opts.logger(retrieval.SourceApollo)}
}

// Source implements retrieval.Adapter.
func (a *Apollo) Source() retrieval.Source { return retrieval.SourceApollo }

// Fetch implements retrieval.Adapter.
func (a *Apollo) Fetch(ctx context.Context, keyword string, browsers retrieval.Browsers) retrieval.Result {
	sess, err := begin(ctx, a.opts, a.Source(), browsers)
	if err != nil {
		return retrieval.Failure(err)
	}
	defer sess.Close()

	target := apolloBase + "/search-medicines/" + encodeComponent(keyword)
	if err := sess.Navigate(target); err != nil {
		return retrieval.Failure(err)
	}
	if err := sess.Sleep(a.opts.settle()); err != nil {
		return retrieval.Failure(err)
	}
	html, err := sess.OuterHTML("html")
	if err != nil {
		return retrieval.Failure(fmt.Errorf("%w: %w", retrieval.ErrExtraction, err))
	}
	a.opts.Artifacts.Capture(ctx, string(a.Source()), keyword, "html", []byte(html))

	products, err := ParseApollo(html)
	if err != nil {
		return retrieval.Failure(err)
	}
	a.logger.Debug("parsed results", zap.Int("products", len(products)))
	return retrieval.Success(products, len(products), "")
}

// ParseApollo extracts named product cards from a rendered search page.
// Class names on the site are generated, so cards and fields are matched by
// several fallbacks and nested matches are collapsed into their outer card.
func ParseApollo(html string) ([]retrieval.Product, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	var products []retrieval.Product
	doc.Find(apolloCardSelector).Each(func(_ int, card *goquery.Selection) {
		if card.ParentsFiltered(apolloCardSelector).Length() > 0 {
			return
		}
		name := squash(card.Find(apolloNameSelector).First().Text())
		if name == "" {
			return
		}
		p := retrieval.Product{
			Name:         name,
			SellingPrice: parsePrice(card.Find(apolloPriceSelector).First().Text()),
			Currency:     "INR",
			ImageURL:     imageURL(card.Find("img").First(), "src"),
		}
		if href, ok := card.Find("a").First().Attr("href"); ok {
			p.URL = resolve(apolloBase, href)
		}
		products = append(products, p)
	})
	if len(products) == 0 {
		return nil, noProducts(retrieval.SourceApollo)
	}
	return products, nil
}

// resolve makes href absolute against base.
func resolve(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
