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

const oneMgBase = "https://www.1mg.com"

// Generated class names on 1mg's search grid.
const (
	oneMgGrid       = ".style__grid-container___3OfcL"
	oneMgCard       = ".style__container___cTDz0"
	oneMgAdBadge    = ".style__adBadge-label___1gTcr"
	oneMgLink       = `a[href*="/drugs/"], a[href*="/otc/"]`
	oneMgTitle      = ".style__pro-title___3zxNC"
	oneMgPackSize   = ".style__pack-size___254Cd"
	oneMgImage      = ".style__image___Ny-Sa"
	oneMgPriceTag   = ".style__price-tag___B2csA"
	oneMgMRPTag     = ".style__mrp-tag___1RMM3"
	oneMgStrikedMRP = ".style__discount-price___cFNZn"
	oneMgDiscount   = ".style__off-badge___21aDi"
	oneMgDelivery   = ".style__delivery-date___cFNZn"
	oneMgRating     = ".CardRatingDetail__ratings-container___2ZTSK"
	oneMgRx         = ".style__rx-required___3q1Xp"
	oneMgOOS        = ".style__not-available___ADBvR"

	oneMgGridWait = 3 * time.Second
)

// OneMg renders the 1mg.com search grid and reads its product cards.
// Sponsored cards are dropped.
type OneMg struct {
	opts   Options
	logger *zap.Logger
}

// NewOneMg returns the onemg adapter.
func NewOneMg(opts Options) *OneMg {
	return &OneMg{opts: opts, logger: opts.logger(retrieval.SourceOneMg)}
}

// Source implements retrieval.Adapter.
func (o *OneMg) Source() retrieval.Source { return retrieval.SourceOneMg }

// Fetch implements retrieval.Adapter.
func (o *OneMg) Fetch(ctx context.Context, keyword string, browsers retrieval.Browsers) retrieval.Result {
	sess, err := begin(ctx, o.opts, o.Source(), browsers)
	if err != nil {
		return retrieval.Failure(err)
	}
	defer sess.Close()

	target := oneMgBase + "/search/all?name=" + encodeComponent(keyword) + "&filter=true&sort=relevance"
	if err := sess.Navigate(target); err != nil {
		return retrieval.Failure(err)
	}
	if err := sess.WaitVisible(oneMgGrid, oneMgGridWait); err != nil {
		return retrieval.Failure(fmt.Errorf("%w: product grid: %w", retrieval.ErrExtraction, err))
	}
	html, err := sess.OuterHTML("html")
	if err != nil {
		return retrieval.Failure(fmt.Errorf("%w: %w", retrieval.ErrExtraction, err))
	}
	o.opts.Artifacts.Capture(ctx, string(o.Source()), keyword, "html", []byte(html))

	products, err := ParseOneMg(html)
	if err != nil {
		return retrieval.Failure(err)
	}
	o.logger.Debug("parsed results", zap.Int("products", len(products)))
	return retrieval.Success(products, len(products), "")
}

// ParseOneMg extracts every non-sponsored card from a rendered search page.
func ParseOneMg(html string) ([]retrieval.Product, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	products := []retrieval.Product{}
	doc.Find(oneMgCard).Each(func(_ int, card *goquery.Selection) {
		if card.Find(oneMgAdBadge).Length() > 0 {
			return
		}
		products = append(products, oneMgProduct(card))
	})
	return products, nil
}

func oneMgProduct(card *goquery.Selection) retrieval.Product {
	p := retrieval.Product{
		Name:                 squash(card.Find(oneMgTitle).First().Text()),
		PackSize:             squash(card.Find(oneMgPackSize).First().Text()),
		Currency:             "INR",
		ImageURL:             imageURL(card.Find(oneMgImage).First(), "src", "data-src", "srcset"),
		PrescriptionRequired: card.Find(oneMgRx).Length() > 0,
		OutOfStock:           card.Find(oneMgOOS).Length() > 0,
		Discount:             squash(card.Find(oneMgDiscount).First().Text()),
	}
	if href, ok := card.Find(oneMgLink).First().Attr("href"); ok {
		p.URL = resolve(oneMgBase, href)
	}

	// A price tag holding the MRP marker is the list price of an item with
	// no discount; otherwise it is the selling price.
	tag := card.Find(oneMgPriceTag).First()
	if tag.Find(oneMgMRPTag).Length() > 0 {
		p.MRP = parsePrice(tag.Text())
	} else {
		p.SellingPrice = parsePrice(tag.Text())
	}
	if striked := parsePrice(card.Find(oneMgStrikedMRP).First().Text()); striked != nil {
		p.MRP = striked
	}

	attrs := map[string]string{}
	delivery := squash(card.Find(oneMgDelivery).First().Text())
	for _, prefix := range []string{"Get by", "Get in"} {
		delivery = strings.TrimSpace(strings.TrimPrefix(delivery, prefix))
	}
	if delivery != "" {
		attrs["delivery"] = delivery
	}
	if rating := squash(card.Find(oneMgRating).First().Text()); rating != "" {
		attrs["rating"] = rating
	}
	if len(attrs) > 0 {
		p.Attributes = attrs
	}
	return p
}
