package sources

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/medprice/internal/retrieval"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func TestParseApollo(t *testing.T) {
	t.Parallel()

	products, err := ParseApollo(fixture(t, "apollo_search.html"))
	require.NoError(t, err)
	require.Len(t, products, 2)

	require.Equal(t, "Dolo 650 Tablet 15's", products[0].Name)
	require.NotNil(t, products[0].SellingPrice)
	require.InDelta(t, 30.91, *products[0].SellingPrice, 1e-9)
	require.Equal(t, "https://www.apollopharmacy.in/otc/dolo-650-tablet-15s", products[0].URL)
	require.Equal(t, "https://images.apollo247.in/dolo.jpg", products[0].ImageURL)

	require.Equal(t, "Calpol 650mg Tablet", products[1].Name)
	require.InDelta(t, 1024.50, *products[1].SellingPrice, 1e-9)
	require.Equal(t, "https://www.apollopharmacy.in/otc/calpol-650", products[1].URL)
}

func TestParseApolloWithoutCards(t *testing.T) {
	t.Parallel()

	_, err := ParseApollo("<html><body><p>No results</p></body></html>")
	require.ErrorIs(t, err, retrieval.ErrNoProducts)
}

func TestParsePharmEasy(t *testing.T) {
	t.Parallel()

	products, err := ParsePharmEasy(fixture(t, "pharmeasy_menu.html"))
	require.NoError(t, err)
	require.Len(t, products, 1)

	p := products[0]
	require.Equal(t, "Dolo 650mg Strip Of 15 Tablets", p.Name)
	require.Equal(t, "MICRO LABS LTD", p.Manufacturer)
	require.Equal(t, "15 Tablet(s) in Strip", p.PackSize)
	require.InDelta(t, 30.11, *p.SellingPrice, 1e-9)
	require.InDelta(t, 33.60, *p.MRP, 1e-9)
	require.Equal(t, "10", p.Discount)
	require.Equal(t, "https://pharmeasy.in/online-medicine-order/dolo-650mg-strip-of-15-tablets-44140", p.URL)
	require.Equal(t, "https://cdn01.pharmeasy.in/dolo-1x.jpg", p.ImageURL)
}

func TestParsePharmEasyMissingMenu(t *testing.T) {
	t.Parallel()

	for _, html := range []string{"", "  \n", "<div class=\"empty\">No results</div>"} {
		products, err := ParsePharmEasy(html)
		require.ErrorIs(t, err, retrieval.ErrExtraction)
		require.ErrorContains(t, err, "failed to extract menu items")
		require.Nil(t, products)
	}
}

func TestParsePharmEasyOnlySkippedItems(t *testing.T) {
	t.Parallel()

	html := `<div role="menuitem" data-id="0"><a href="/search/all?name=dolo">See all</a></div>
<div role="menuitem" data-id="17"><span class="ProductCard_medicineName__Uzjm7">Dolo 650</span></div>`
	products, err := ParsePharmEasy(html)
	require.NoError(t, err)
	require.NotNil(t, products)
	require.Empty(t, products)
}

func TestParseOneMg(t *testing.T) {
	t.Parallel()

	products, err := ParseOneMg(fixture(t, "onemg_search.html"))
	require.NoError(t, err)
	require.Len(t, products, 2, "sponsored cards are dropped")

	dolo := products[0]
	require.Equal(t, "Dolo 650 Tablet", dolo.Name)
	require.Equal(t, "strip of 15 tablets", dolo.PackSize)
	require.Equal(t, "https://www.1mg.com/drugs/dolo-650-tablet-74467", dolo.URL)
	require.Equal(t, "https://onemg.gumlet.io/dolo.png", dolo.ImageURL)
	require.InDelta(t, 30.91, *dolo.SellingPrice, 1e-9)
	require.InDelta(t, 33.60, *dolo.MRP, 1e-9)
	require.Equal(t, "8% off", dolo.Discount)
	require.True(t, dolo.PrescriptionRequired)
	require.False(t, dolo.OutOfStock)
	require.Equal(t, "Tomorrow, 9 pm", dolo.Attributes["delivery"])
	require.Equal(t, "4.4", dolo.Attributes["rating"])

	calpol := products[1]
	require.Nil(t, calpol.SellingPrice)
	require.InDelta(t, 1250.0, *calpol.MRP, 1e-9)
	require.True(t, calpol.OutOfStock)
	require.Nil(t, calpol.Attributes)
}

func TestParseNetmeds(t *testing.T) {
	t.Parallel()

	products, total, err := ParseNetmeds(fixture(t, "netmeds_search.html"))
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, products, 2)

	p := products[0]
	require.Equal(t, "Dolo 650mg Tablet 15'S", p.Name)
	require.Equal(t, "Micro Labs Ltd", p.Manufacturer)
	require.Equal(t, "15 Tablet", p.PackSize)
	require.Equal(t, "INR", p.Currency)
	require.InDelta(t, 30.5, *p.SellingPrice, 1e-9)
	require.InDelta(t, 33.6, *p.MRP, 1e-9)
	require.InDelta(t, 30.5/15, *p.PricePerUnit, 1e-9)
	require.Equal(t, "10% OFF", p.Discount)
	require.Equal(t, "Paracetamol 650mg", p.Composition)
	require.Equal(t, "https://www.netmeds.com/prescriptions/dolo-650mg-tablet-15s", p.URL)
	require.Equal(t, "https://cdn.netmeds.com/dolo.jpg", p.ImageURL)
	require.Equal(t, "Dolo 650 relieves fever & pain]", p.Attributes["description"])
	require.Equal(t, "Fever, Pain Relief", p.Attributes["categories"])
	require.Equal(t, "123", p.Attributes["uid"])
	require.Equal(t, "33.6", p.Attributes["mrp"])
	require.Equal(t, "H", p.Attributes["schedule"])
	require.NotContains(t, p.Attributes, "dosage")
	require.NotContains(t, p.Attributes, "unrelated")

	crocin := products[1]
	require.Nil(t, crocin.PricePerUnit, "non-numeric pack size has no unit price")
	require.Nil(t, crocin.MRP)
	require.Empty(t, crocin.URL)
}

func TestParseNetmedsFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":      "   ",
		"no marker":  "<html><body>nothing here</body></html>",
		"unbalanced": `<script>{"items":[{"name":"x"}</script>`,
		"bad json":   `<script>{"items":[{"name": }]}</script>`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, _, err := ParseNetmeds(doc)
			require.ErrorIs(t, err, retrieval.ErrExtraction)
		})
	}
}

func TestCleanDescriptionTruncates(t *testing.T) {
	t.Parallel()

	got := cleanDescription("<div>" + strings.Repeat("word ", 200) + "</div>")
	require.LessOrEqual(t, len(got), netmedsDescriptionLimit)
	require.True(t, strings.HasPrefix(got, "word word"))
	require.Equal(t, "a b", cleanDescription(`a  <br/> b`))
}

func TestCleanDescriptionReadsTextOnly(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ in, want string }{
		{"", ""},
		{"<p>one</p><p>two</p>", "one two"},
		{"<p>Fever&nbsp;&amp; <i>pain</i></p>", "Fever & pain"},
		{"<ul><li>a<b>b</b>c</li></ul>", "a b c"},
		{"<p>x<!-- note --><script>y()</script></p>", "x"},
		{`Paracetamol\u00a0500mg`, "Paracetamol500mg"},
	} {
		require.Equal(t, tc.want, cleanDescription(tc.in), tc.in)
	}
}

func TestParseTruemeds(t *testing.T) {
	t.Parallel()

	products, err := ParseTruemeds([]byte(fixture(t, "truemeds_search.json")))
	require.NoError(t, err)
	require.Len(t, products, 2, "suggestion entries are skipped")

	dolo := products[0]
	require.Equal(t, "Dolo 650 Tablet", dolo.Name)
	require.Equal(t, "Micro Labs Ltd", dolo.Manufacturer)
	require.Equal(t, "15", dolo.PackSize)
	require.Equal(t, "Strip", dolo.PackForm)
	require.InDelta(t, 25.2, *dolo.SellingPrice, 1e-9)
	require.InDelta(t, 33.6, *dolo.MRP, 1e-9)
	require.InDelta(t, 1.68, *dolo.PricePerUnit, 1e-9)
	require.Equal(t, "25", dolo.Discount)
	require.Equal(t, "https://www.truemeds.in/otc/dolo-650-mg-tablet-tm-tacr1-011522", dolo.URL)
	require.Equal(t, "TM-TACR1-011522", dolo.Attributes["product_code"])

	syrup := products[1]
	require.InDelta(t, 99.0, *syrup.PricePerUnit, 1e-9, "missing pack size counts as one unit")
	require.Nil(t, syrup.MRP)
	require.Equal(t, "https://www.truemeds.in/otc/crocin-syrup-125-mg-tm-syrp1-000042", syrup.URL)
}

func TestParseTruemedsFailures(t *testing.T) {
	t.Parallel()

	_, err := ParseTruemeds([]byte(`{"responseData":{"productList":[]}}`))
	require.ErrorIs(t, err, retrieval.ErrNoProducts)

	_, err = ParseTruemeds([]byte(`{"status":"ok"}`))
	require.ErrorIs(t, err, retrieval.ErrNoProducts)

	_, err = ParseTruemeds([]byte(`<html>`))
	require.ErrorIs(t, err, retrieval.ErrUpstreamShape)

	_, err = ParseTruemeds(nil)
	require.ErrorIs(t, err, retrieval.ErrUpstreamShape)
}

func TestTruemedsLink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		code, sku, composition string
		want                   string
	}{
		{
			name: "strength inserted after bare number",
			code: "TM-TACR1-011522", sku: "Dolo 650 Tablet", composition: "Paracetamol 650mg",
			want: "https://www.truemeds.in/otc/dolo-650-mg-tablet-tm-tacr1-011522",
		},
		{
			name: "strength appended",
			code: "ABC1", sku: "Crocin Advance", composition: "Paracetamol 500 mg",
			want: "https://www.truemeds.in/otc/crocin-advance-500-mg-abc1",
		},
		{
			name: "name already carries mg",
			code: "X1", sku: "Calpol 500 MG", composition: "Paracetamol 500mg",
			want: "https://www.truemeds.in/otc/calpol-500-mg-x1",
		},
		{
			name: "no composition",
			code: "X2", sku: "  Vicks  VapoRub! ", composition: "",
			want: "https://www.truemeds.in/otc/vicks-vaporub-x2",
		},
		{name: "missing code", sku: "Dolo", want: ""},
		{name: "empty slug", code: "X3", sku: "!!!", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, TruemedsLink(tc.code, tc.sku, tc.composition))
		})
	}
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1234.5, *parsePrice("MRP ₹1,234.50*"), 1e-9)
	require.InDelta(t, 30.0, *parsePrice(" ₹30 "), 1e-9)
	require.Nil(t, parsePrice("Out of stock"))
	require.Nil(t, parsePrice(""))
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "dolo%20650%26x", encodeComponent("dolo 650&x"))
	require.Equal(t, "https://a/1.jpg", firstSrcset(" https://a/1.jpg 1x, https://a/2.jpg 2x"))
	require.Empty(t, firstSrcset(""))
	require.Equal(t, 15, leadingInt("15 tablets"))
	require.Zero(t, leadingInt("tablets"))
	require.InDelta(t, 2.5, leadingFloat("2.5ml"), 1e-9)
	require.Zero(t, leadingFloat("strip"))
	require.InDelta(t, 1.68, round2(25.2/15), 1e-9)
	require.Equal(t, "https://www.1mg.com/drugs/x", resolve(oneMgBase, "/drugs/x"))
	require.Equal(t, "https://cdn/x", resolve(oneMgBase, "https://cdn/x"))
	require.Empty(t, resolve(oneMgBase, "  "))
}
