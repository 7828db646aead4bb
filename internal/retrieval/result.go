package retrieval

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// MaxProducts is the number of ranked products each source reports.
const MaxProducts = 3

// Product is the normalized listing shared by every source.
type Product struct {
	Name                 string            `json:"name"`
	Manufacturer         string            `json:"manufacturer,omitempty"`
	PackSize             string            `json:"pack_size,omitempty"`
	PackForm             string            `json:"pack_form,omitempty"`
	SellingPrice         *float64          `json:"selling_price,omitempty"`
	MRP                  *float64          `json:"mrp,omitempty"`
	Discount             string            `json:"discount,omitempty"`
	PricePerUnit         *float64          `json:"price_per_unit,omitempty"`
	Currency             string            `json:"currency,omitempty"`
	URL                  string            `json:"url,omitempty"`
	ImageURL             string            `json:"image_url,omitempty"`
	Composition          string            `json:"composition,omitempty"`
	PrescriptionRequired bool              `json:"prescription_required,omitempty"`
	OutOfStock           bool              `json:"out_of_stock,omitempty"`
	Attributes           map[string]string `json:"attributes,omitempty"`
}

// Payload is the body of a successful source result.
type Payload struct {
	Products   []Product
	TotalFound int
	Message    string
}

// Result is the tagged outcome of one source: either a payload or an error,
// never both. The zero value is a failure.
type Result struct {
	payload *Payload
	err     error
}

// Success builds a successful Result, keeping only the first MaxProducts
// products. TotalFound defaults to the number of products supplied.
func Success(products []Product, totalFound int, message string) Result {
	if totalFound < len(products) {
		totalFound = len(products)
	}
	kept := make([]Product, 0, min(len(products), MaxProducts))
	kept = append(kept, products[:min(len(products), MaxProducts)]...)
	return Result{payload: &Payload{Products: kept, TotalFound: totalFound, Message: message}}
}

// Failure builds a failed Result. A nil error is recorded as an unknown
// failure so the variant stays well formed.
func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Result{err: err}
}

// Failuref is Failure with a formatted error.
func Failuref(format string, args ...any) Result {
	return Failure(fmt.Errorf(format, args...))
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.payload != nil
}

// Payload returns the success payload.
func (r Result) Payload() (Payload, bool) {
	if r.payload == nil {
		return Payload{}, false
	}
	return *r.payload, true
}

// Err returns the failure reason, or nil on success.
func (r Result) Err() error {
	if r.payload != nil {
		return nil
	}
	if r.err == nil {
		return errors.New("unknown failure")
	}
	return r.err
}

// ProductsCount is the number of products carried by a success.
func (r Result) ProductsCount() int {
	if r.payload == nil {
		return 0
	}
	return len(r.payload.Products)
}

type successJSON struct {
	OK            bool      `json:"ok"`
	Products      []Product `json:"products"`
	ProductsCount int       `json:"productsCount"`
	TotalFound    int       `json:"totalFound,omitempty"`
	Message       string    `json:"message,omitempty"`
}

type failureJSON struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// MarshalJSON renders {ok:true, products, productsCount} or {ok:false, error}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.payload == nil {
		data, err := json.Marshal(failureJSON{OK: false, Error: r.Err().Error()})
		if err != nil {
			return nil, fmt.Errorf("marshal failure: %w", err)
		}
		return data, nil
	}
	products := r.payload.Products
	if products == nil {
		products = []Product{}
	}
	data, err := json.Marshal(successJSON{
		OK:            true,
		Products:      products,
		ProductsCount: len(products),
		TotalFound:    r.payload.TotalFound,
		Message:       r.payload.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal success: %w", err)
	}
	return data, nil
}

// Aggregate maps every enabled source to its result.
type Aggregate map[Source]Result

// Sources returns the keys in sorted order.
func (a Aggregate) Sources() []Source {
	out := make([]Source, 0, len(a))
	for src := range a {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Succeeded counts successful sources.
func (a Aggregate) Succeeded() int {
	n := 0
	for _, r := range a {
		if r.OK() {
			n++
		}
	}
	return n
}
