package normalizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Canonical field names produced by column detection.
const (
	FieldDate      = "date"
	FieldTime      = "time"
	FieldProduct   = "product"
	FieldPlatform  = "platform"
	FieldCategory  = "category"
	FieldStatus    = "status"
	FieldSubID     = "sub_id"
	FieldOrderID   = "order_id"
	FieldProductID = "product_id"
	FieldRevenue   = "revenue"
	FieldCost      = "cost"
	FieldCommission = "commission"
	FieldQuantity  = "quantity"
	FieldChannel   = "channel"
	FieldClicks    = "clicks"
)

// synonyms maps each canonical field to its accepted header aliases, in
// precedence order. The first alias that matches a header wins, so e.g.
// "revenue" beats "gross_value" when both columns are present.
// The Portuguese families mirror the affiliate-platform exports this system
// was built for (Shopee, Hotmart, Cakto).
var synonyms = []struct {
	field   string
	aliases []string
}{
	{FieldDate, []string{
		"date", "data", "transaction_date", "data_pedido", "data_do_pedido",
		"horario_do_pedido", "tempo_dos_cliques",
	}},
	{FieldTime, []string{
		"time", "hora", "horario", "hora_do_pedido",
	}},
	{FieldProduct, []string{
		"product", "produto", "product_name", "produto_nome", "nome_do_item",
	}},
	{FieldOrderID, []string{
		"order_id", "id_pedido", "id_do_pedido", "numero_do_pedido", "id_pagamento",
	}},
	{FieldProductID, []string{
		"product_id", "item_id", "id_item", "id_do_item", "id_do_produto",
	}},
	{FieldPlatform, []string{
		"platform", "plataforma", "origem", "origem_do_pedido",
	}},
	{FieldRevenue, []string{
		"revenue", "receita", "valor_bruto", "gross_value", "valor", "valor_venda",
		"valor_de_compra", "valor_de_compra_r", "valor_de_compra_rs", "faturamento",
		"preco", "preco_r", "preco_rs", "total",
	}},
	{FieldCost, []string{
		"cost", "custo", "custo_total", "valor_custo", "valor_gasto",
		"gasto_anuncios", "valor_gasto_anuncios",
	}},
	{FieldCommission, []string{
		"commission", "comissao", "comissao_liquida", "comissao_liquida_do_afiliado",
		"comissao_liquida_do_afiliado_r", "comissao_liquida_do_afiliado_rs",
		"comissao_total_do_item_r", "comissao_total_do_pedido_r", "taxa", "fee",
		"commission_value", "taxa_de_cartao",
	}},
	{FieldQuantity, []string{
		"quantity", "quantidade", "qtd", "item_count", "sales_count", "vendas",
	}},
	{FieldStatus, []string{
		"status", "status_do_pedido", "status_pedido",
	}},
	{FieldCategory, []string{
		"category", "categoria", "categoria_global", "categoria_global_l1",
	}},
	{FieldChannel, []string{
		"channel", "canal", "referenciador", "referrer", "origem", "plataforma", "platform",
	}},
	{FieldClicks, []string{
		"clicks", "cliques", "total_de_cliques", "cliques_por_canal",
		"quantidade_cliques", "cliques_count",
	}},
	{FieldSubID, []string{
		"sub_id", "subid", "sub_id1", "subid1", "subid2", "id_sub", "referencia",
	}},
}

// ColumnMap resolves canonical fields to positions in a CSV record.
type ColumnMap struct {
	index map[string]int
	// Raw keeps header name -> position for pass-through of unmapped columns
	// when the worker enables raw capture.
	Raw map[string]int
}

// NormalizeHeader canonicalizes a raw header: lower-case, accents stripped,
// every non-alphanumeric run collapsed to a single underscore.
func NormalizeHeader(name string) string {
	decomposed := norm.NFKD.String(name)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '_' })
	return strings.Join(parts, "_")
}

// DetectColumns maps CSV headers onto canonical fields. Matching is
// deterministic: canonical fields are visited in declaration order and for
// each field the aliases are tried in precedence order; the first header
// whose normalized form equals the alias wins. A header claimed by one field
// is still visible to later fields (platform and channel may share a column).
func DetectColumns(headers []string) ColumnMap {
	normed := make([]string, len(headers))
	raw := make(map[string]int, len(headers))
	for i, h := range headers {
		normed[i] = NormalizeHeader(h)
		raw[strings.TrimSpace(h)] = i
	}

	index := make(map[string]int)
	for _, s := range synonyms {
		for _, alias := range s.aliases {
			found := -1
			for i, n := range normed {
				if n == alias {
					found = i
					break
				}
			}
			if found >= 0 {
				index[s.field] = found
				break
			}
		}
	}
	return ColumnMap{index: index, Raw: raw}
}

// Pos returns the record position for a canonical field.
func (c ColumnMap) Pos(field string) (int, bool) {
	i, ok := c.index[field]
	return i, ok
}

// Has reports whether the field was detected.
func (c ColumnMap) Has(field string) bool {
	_, ok := c.index[field]
	return ok
}

func (c ColumnMap) value(field string, record []string) string {
	i, ok := c.index[field]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
