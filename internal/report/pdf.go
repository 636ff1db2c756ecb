package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorTableHeader = [3]int{30, 58, 95}
	colorTableAlt    = [3]int{241, 245, 249}
	colorGridLine    = [3]int{220, 220, 220}
)

type column struct {
	title string
	width float64
	align string
}

// RenderPDF renders the report tables as an A4 PDF.
func RenderPDF(data *Data) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 25)
	pdf.SetTitle("ShopBot Billing Report", false)

	pdf.AddPage()
	writeTitle(pdf, data)

	promoCols := []column{{"Code", 35, "L"}, {"Discount", 30, "L"}, {"Used", 28, "C"}, {"Active", 18, "C"}, {"Valid until", 26, "C"}, {"Description", 43, "L"}}
	promoRows := make([][]string, 0, len(data.Promos))
	for _, p := range data.Promos {
		promoRows = append(promoRows, []string{p.Code, p.Discount, p.Usage(), yesNo(p.Active), formatDate(p.ValidUntil), orDash(p.Description)})
	}
	writeTable(pdf, "Promo Codes", promoCols, promoRows)

	userCols := []column{{"Email", 55, "L"}, {"Name", 35, "L"}, {"Company", 35, "L"}, {"Store", 30, "L"}, {"Created", 25, "C"}}
	userRows := make([][]string, 0, len(data.Users))
	for _, u := range data.Users {
		created := u.CreatedAt
		userRows = append(userRows, []string{u.Email, orDash(u.FullName), orDash(u.Company), orDash(u.StoreURL), formatDate(&created)})
	}
	writeTable(pdf, "Users", userCols, userRows)

	subCols := []column{{"User", 55, "L"}, {"Status", 28, "C"}, {"Plan", 22, "C"}, {"Price", 22, "R"}, {"Discount", 22, "R"}, {"Messages", 31, "R"}}
	subRows := make([][]string, 0, len(data.Subscriptions))
	for _, s := range data.Subscriptions {
		subRows = append(subRows, []string{
			s.Email,
			s.Status,
			s.PlanName,
			fmt.Sprintf("$%.2f", s.MonthlyPrice),
			fmt.Sprintf("%g%%", s.DiscountPercent),
			fmt.Sprintf("%d/%d", s.MessagesUsed, s.MessageLimit),
		})
	}
	writeTable(pdf, "Subscriptions", subCols, subRows)

	addPageNumbers(pdf)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render PDF: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func writeTitle(pdf *fpdf.Fpdf, data *Data) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 20)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, "ShopBot Billing Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, "Generated "+data.GeneratedAt.Format("Jan 2, 2006 15:04 MST"), "", 1, "L", false, 0, "")
	pdf.Ln(6)
}

func writeTable(pdf *fpdf.Fpdf, title string, cols []column, rows [][]string) {
	_, pageHeight := pdf.GetPageSize()
	if pdf.GetY() > pageHeight-60 {
		pdf.AddPage()
	}

	pdf.SetFont("Arial", "B", 13)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, fmt.Sprintf("%s (%d)", title, len(rows)), "", 1, "L", false, 0, "")

	header := func() {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
		pdf.SetTextColor(255, 255, 255)
		for _, c := range cols {
			pdf.CellFormat(c.width, 7, c.title, "", 0, c.align, true, 0, "")
		}
		pdf.Ln(-1)
	}
	header()

	if len(rows) == 0 {
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 6, "None", "", 1, "L", false, 0, "")
		pdf.Ln(6)
		return
	}

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 8)
	for i, row := range rows {
		if pdf.GetY() > pageHeight-30 {
			pdf.AddPage()
			header()
			pdf.SetFont("Arial", "", 8)
		}
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		for j, c := range cols {
			pdf.CellFormat(c.width, 6, fit(pdf, tr(row[j]), c.width-2), "", 0, c.align, fill, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(6)
}

// fit truncates s with an ellipsis so it fits in width.
func fit(pdf *fpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}

func addPageNumbers(pdf *fpdf.Fpdf) {
	pdf.SetAutoPageBreak(false, 0)
	total := pdf.PageCount()
	for i := 1; i <= total; i++ {
		pdf.SetPage(i)
		pageWidth, pageHeight := pdf.GetPageSize()

		pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
		pdf.SetLineWidth(0.3)
		pdf.Line(15, pageHeight-20, pageWidth-15, pageHeight-20)

		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i, total), "", 0, "C", false, 0, "")
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
