package invoice

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// RenderPDF lays the invoice out on an A4 page: parties, items in USD and
// INR, totals, exchange rate and notes.
func RenderPDF(inv *Invoice) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Invoice "+inv.Number, true)
	pdf.SetAuthor(inv.SenderName, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 10, "INVOICE", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, tr("Number: "+inv.Number), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Date: "+inv.Date.Format(DateLayout), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	top := pdf.GetY()
	left := party(pdf, tr, 10, top, "From", inv.SenderName, inv.SenderAddress, taxLine("GSTIN", inv.SenderTaxID))
	right := party(pdf, tr, 110, top, "Bill to", inv.RecipientName, inv.RecipientAddress,
		taxLine("GSTIN", inv.RecipientTaxID),
		taxLine("PAN", inv.RecipientPAN),
		inv.RecipientEmail,
		inv.RecipientPhone,
		inv.RecipientWebsite,
	)
	pdf.SetXY(10, max(left, right))
	pdf.Ln(6)

	widths := []float64{10, 90, 45, 45}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	for i, h := range []string{"#", "Item", "Amount (USD)", "Amount (INR)"} {
		align := "L"
		if i >= 2 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 8, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for i, it := range inv.Items {
		label := it.Name
		if it.Description != "" {
			label += " - " + it.Description
		}
		pdf.CellFormat(widths[0], 7, fmt.Sprint(i+1), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, tr(truncate(label, 55)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 7, amount(it.AmountUSD), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, amount(it.AmountINR), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	totalRow := func(label string, usd, inr decimal.Decimal, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.CellFormat(widths[0]+widths[1], 7, label, "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, "USD "+amount(usd), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, "INR "+amount(inr), "", 1, "R", false, 0, "")
	}
	totalRow("Subtotal", inv.SubtotalUSD, inv.SubtotalINR, false)
	totalRow(fmt.Sprintf("Tax (%s%%)", inv.TaxRate.String()), inv.TaxUSD, inv.TaxINR, false)
	totalRow("Total", inv.TotalUSD, inv.TotalINR, true)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6, "Exchange rate: 1 USD = "+inv.ExchangeRate.StringFixed(2)+" INR", "", 1, "L", false, 0, "")
	if inv.Notes != "" {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 6, "Notes", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, tr(inv.Notes), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// party prints a name and address block at (x, y) and returns its bottom edge.
func party(pdf *gofpdf.Fpdf, tr func(string) string, x, y float64, heading, name, address string, extra ...string) float64 {
	pdf.SetXY(x, y)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(90, 6, heading, "", 2, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(90, 5, tr(name), "", 2, "L", false, 0, "")
	pdf.MultiCell(90, 5, tr(address), "", "L", false)
	for _, line := range extra {
		if line == "" {
			continue
		}
		pdf.SetX(x)
		pdf.CellFormat(90, 5, tr(line), "", 2, "L", false, 0, "")
	}
	return pdf.GetY()
}

func taxLine(label, value string) string {
	if value == "" {
		return ""
	}
	return label + ": " + value
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
