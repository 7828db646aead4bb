package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/medprice/internal/fetcher/colly"
	"github.com/JakeFAU/medprice/internal/retrieval"
)

// DefaultTruemedsEndpoint is the search suggestion API behind truemeds.in.
const DefaultTruemedsEndpoint = "https://nal.tmmumbai.in/CustomerService/getSearchSuggestion"

const truemedsProductBase = "https://www.truemeds.in/otc/"

var (
	mgDose      = regexp.MustCompile(`(?i)(\d+)\s*mg`)
	mgWord      = regexp.MustCompile(`(?i)\bmg\b`)
	nonSlugRune = regexp.MustCompile(`[^a-z0-9]+`)
)

// TruemedsConfig configures the API-backed adapter.
type TruemedsConfig struct {
	// Endpoint defaults to DefaultTruemedsEndpoint.
	Endpoint string
	Fetcher  *collyfetcher.Fetcher
}

// Truemeds queries the truemeds search API directly. It never touches the
// shared browser.
type Truemeds struct {
	opts     Options
	endpoint string
	fetcher  *collyfetcher.Fetcher
	logger   *zap.Logger
}

// NewTruemeds returns the truemeds adapter.
func NewTruemeds(opts Options, cfg TruemedsConfig) *Truemeds {
	t := &Truemeds{
		opts:     opts,
		endpoint: cfg.Endpoint,
		fetcher:  cfg.Fetcher,
		logger:   opts.logger(retrieval.SourceTruemeds),
	}
	if t.endpoint == "" {
		t.endpoint = DefaultTruemedsEndpoint
	}
	if t.fetcher == nil {
		t.fetcher = collyfetcher.New(collyfetcher.Config{Logger: t.logger})
	}
	return t
}

// Source implements retrieval.Adapter.
func (t *Truemeds) Source() retrieval.Source { return retrieval.SourceTruemeds }

// SearchURL builds the API request for keyword.
func (t *Truemeds) SearchURL(keyword string) string {
	params := url.Values{}
	params.Set("searchString", keyword)
	params.Set("isMultiSearch", "true")
	params.Set("elasticSearchType", "SEARCH_SUGGESTION")
	params.Set("warehouseId", "20")
	params.Set("variantId", "18")
	params.Set("searchVariant", "N")
	params.Set("orderConfirmSrc", "WEBSITE")
	params.Set("sourceVersion", "TM_WEBSITE_V_4.4.1")
	return t.endpoint + "?" + params.Encode()
}

// Fetch implements retrieval.Adapter.
func (t *Truemeds) Fetch(ctx context.Context, keyword string, _ retrieval.Browsers) retrieval.Result {
	if err := t.opts.Limiter.Wait(ctx, string(t.Source())); err != nil {
		return retrieval.Failure(err)
	}
	resp, err := t.fetcher.Fetch(ctx, collyfetcher.Request{
		URL:     t.SearchURL(keyword),
		Headers: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return retrieval.Failure(ctx.Err())
		}
		return retrieval.Failure(fmt.Errorf("%w: %w", retrieval.ErrUpstreamShape, err))
	}
	t.opts.Artifacts.Capture(ctx, string(t.Source()), keyword, "json", resp.Body)

	products, err := ParseTruemeds(resp.Body)
	if err != nil {
		return retrieval.Failure(err)
	}
	t.logger.Debug("parsed results", zap.Int("products", len(products)))
	return retrieval.Success(products, len(products), "Truemeds data retrieved successfully")
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	// Non-numeric values are treated as absent.
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		f.v, f.set = v, true
	}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

type truemedsProduct struct {
	ProductCode      string          `json:"productCode"`
	SkuName          string          `json:"skuName"`
	ManufacturerName string          `json:"manufacturerName"`
	MRP              flexFloat       `json:"mrp"`
	SellingPrice     flexFloat       `json:"sellingPrice"`
	Discount         json.RawMessage `json:"discount"`
	PackSize         json.RawMessage `json:"packSize"`
	PackForm         string          `json:"packForm"`
	ProductImageURL  string          `json:"productImageUrl"`
	Composition      string          `json:"composition"`
}

type truemedsResponse struct {
	ResponseData *struct {
		ProductList []struct {
			Product *truemedsProduct `json:"product"`
		} `json:"productList"`
	} `json:"responseData"`
}

// ParseTruemeds decodes a search suggestion response. Suggestion-only
// entries are skipped; an empty product list is a failure.
func ParseTruemeds(body []byte) ([]retrieval.Product, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: no JSON data received", retrieval.ErrUpstreamShape)
	}
	var decoded truemedsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", retrieval.ErrUpstreamShape, err)
	}
	if decoded.ResponseData == nil || len(decoded.ResponseData.ProductList) == 0 {
		return nil, retrieval.ErrNoProducts
	}
	products := []retrieval.Product{}
	for _, entry := range decoded.ResponseData.ProductList {
		if entry.Product == nil {
			continue
		}
		products = append(products, entry.Product.normalize())
	}
	return products, nil
}

func (p *truemedsProduct) normalize() retrieval.Product {
	packSize := rawString(p.PackSize)
	out := retrieval.Product{
		Name:         p.SkuName,
		Manufacturer: p.ManufacturerName,
		PackSize:     packSize,
		PackForm:     p.PackForm,
		SellingPrice: p.SellingPrice.ptr(),
		MRP:          p.MRP.ptr(),
		Discount:     rawString(p.Discount),
		Currency:     "INR",
		URL:          TruemedsLink(p.ProductCode, p.SkuName, p.Composition),
		ImageURL:     p.ProductImageURL,
		Composition:  p.Composition,
	}
	if p.ProductCode != "" {
		out.Attributes = map[string]string{"product_code": p.ProductCode}
	}
	if out.SellingPrice != nil {
		units := leadingFloat(packSize)
		if units <= 0 {
			units = 1
		}
		v := round2(*out.SellingPrice / units)
		out.PricePerUnit = &v
	}
	return out
}

// TruemedsLink rebuilds the public product page URL. When the composition
// carries a milligram strength the name lacks, the strength is worked into
// the slug. It returns "" when either the slug or the code is empty.
func TruemedsLink(code, name, composition string) string {
	code = strings.ToLower(code)
	if m := mgDose.FindStringSubmatch(composition); m != nil && !mgWord.MatchString(name) {
		num := m[1]
		re := regexp.MustCompile(`\b` + num + `\b`)
		if loc := re.FindStringIndex(name); loc != nil {
			name = name[:loc[0]] + num + " mg" + name[loc[1]:]
		} else {
			name = name + " " + num + " mg"
		}
	}
	slug := slugify(name)
	if slug == "" || code == "" {
		return ""
	}
	return truemedsProductBase + slug + "-" + code
}

func slugify(s string) string {
	return strings.Trim(nonSlugRune.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// leadingFloat parses the numeric prefix of s like JavaScript's parseFloat.
func leadingFloat(s string) float64 {
	s = strings.TrimSpace(s)
	end, dot := 0, false
	for end < len(s) {
		c := s[end]
		if c == '.' && !dot {
			dot = true
		} else if c < '0' || c > '9' {
			break
		}
		end++
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return 0
	}
	return v
}
