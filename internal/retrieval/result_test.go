package retrieval

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func price(v float64) *float64 { return &v }

func TestSuccessCapsProductsAndKeepsTotal(t *testing.T) {
	t.Parallel()

	products := []Product{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}
	res := Success(products, 40, "Netmeds: Found 40 products")
	require.True(t, res.OK())
	require.NoError(t, res.Err())
	require.Equal(t, MaxProducts, res.ProductsCount())

	payload, ok := res.Payload()
	require.True(t, ok)
	require.Equal(t, 40, payload.TotalFound)
	require.Equal(t, "c", payload.Products[2].Name)

	// The caller's slice is not aliased.
	products[0].Name = "changed"
	payload, _ = res.Payload()
	require.Equal(t, "a", payload.Products[0].Name)
}

func TestSuccessTotalNeverBelowReturned(t *testing.T) {
	t.Parallel()

	payload, _ := Success([]Product{{Name: "a"}, {Name: "b"}}, 0, "").Payload()
	require.Equal(t, 2, payload.TotalFound)
}

func TestResultJSONShapes(t *testing.T) {
	t.Parallel()

	ok, err := json.Marshal(Success([]Product{{Name: "Dolo 650", SellingPrice: price(30.5), Currency: "INR"}}, 1, ""))
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true,"products":[{"name":"Dolo 650","selling_price":30.5,"currency":"INR"}],"productsCount":1,"totalFound":1}`, string(ok))

	empty, err := json.Marshal(Success(nil, 0, ""))
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true,"products":[],"productsCount":0}`, string(empty))

	failed, err := json.Marshal(Failure(errors.New("apollo timed out after 20000ms")))
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":false,"error":"apollo timed out after 20000ms"}`, string(failed))
}

func TestZeroResultIsFailure(t *testing.T) {
	t.Parallel()

	var res Result
	require.False(t, res.OK())
	require.EqualError(t, res.Err(), "unknown failure")
	require.EqualError(t, Failure(nil).Err(), "unknown failure")
	require.Equal(t, 0, res.ProductsCount())
}

func TestAggregateHelpers(t *testing.T) {
	t.Parallel()

	agg := Aggregate{
		SourceTruemeds: Success(nil, 0, ""),
		SourceApollo:   Failuref("boom"),
		SourceNetmeds:  Success([]Product{{Name: "x"}}, 1, ""),
	}
	require.Equal(t, []Source{SourceApollo, SourceNetmeds, SourceTruemeds}, agg.Sources())
	require.Equal(t, 2, agg.Succeeded())
}
