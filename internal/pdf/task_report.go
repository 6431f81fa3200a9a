package pdf

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"

	"taskflow/internal/models"
)

// Generator рендерит отчёт по задачам (удобно мокать в тестах)
type Generator interface {
	TaskReport(w io.Writer, data ReportData) error
}

type ReportData struct {
	Owner       string
	Tasks       []*models.TaskResponse
	GeneratedAt time.Time
}

// ReportGenerator uses a UTF-8 TTF when FontPath points at one and falls back
// to the core Helvetica font otherwise.
type ReportGenerator struct {
	FontPath string
}

// page holds per-render state so one generator can serve concurrent requests.
type page struct {
	pdf  *gofpdf.Fpdf
	font string
	tr   func(string) string
}

func NewReportGenerator(fontPath string) *ReportGenerator {
	return &ReportGenerator{FontPath: fontPath}
}

var columns = []struct {
	title string
	width float64
}{
	{"Title", 70},
	{"Status", 28},
	{"Priority", 22},
	{"Due", 26},
	{"Files", 14},
}

func (g *ReportGenerator) TaskReport(w io.Writer, data ReportData) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Task report", true)
	pdf.SetAuthor("TaskFlow", true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	p := g.setupFont(pdf)
	tr := p.tr
	pdf.AddPage()

	// заголовок
	pdf.SetFont(p.font, "B", 18)
	pdf.CellFormat(0, 10, tr("Task report"), "", 1, "C", false, 0, "")
	pdf.SetFont(p.font, "", 11)
	sub := fmt.Sprintf("%s  ·  %s", data.Owner, data.GeneratedAt.UTC().Format("02.01.2006 15:04 UTC"))
	pdf.CellFormat(0, 7, tr(sub), "", 1, "C", false, 0, "")
	p.hr()

	p.summary(data.Tasks)
	pdf.Ln(4)

	// таблица
	pdf.SetFont(p.font, "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range columns {
		pdf.CellFormat(col.width, 7, col.title, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(p.font, "", 10)
	if len(data.Tasks) == 0 {
		pdf.CellFormat(0, 7, tr("No tasks"), "1", 1, "C", false, 0, "")
	}
	for _, t := range data.Tasks {
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Format("2006-01-02")
		}
		cells := []string{
			truncate(t.Title, 38),
			string(t.Status),
			string(t.Priority),
			due,
			fmt.Sprintf("%d", len(t.Attachments)),
		}
		for i, col := range columns {
			pdf.CellFormat(col.width, 7, tr(cells[i]), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf.Output(w)
}

func (p *page) summary(tasks []*models.TaskResponse) {
	counts := map[models.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	p.kvLine("Total", fmt.Sprintf("%d", len(tasks)))
	for _, s := range []models.TaskStatus{models.StatusPending, models.StatusInProgress, models.StatusCompleted} {
		p.kvLine(string(s), fmt.Sprintf("%d", counts[s]))
	}
}

func (p *page) kvLine(key, val string) {
	p.pdf.SetFont(p.font, "B", 11)
	p.pdf.CellFormat(45, 6, p.tr(key+":"), "", 0, "L", false, 0, "")
	p.pdf.SetFont(p.font, "", 11)
	p.pdf.CellFormat(0, 6, p.tr(val), "", 1, "L", false, 0, "")
}

func (p *page) hr() {
	y := p.pdf.GetY() + 1.5
	p.pdf.SetLineWidth(0.2)
	p.pdf.Line(20, y, 190, y)
	p.pdf.SetY(y + 2)
}

// setupFont picks the font and the text translator matching it.
func (g *ReportGenerator) setupFont(pdf *gofpdf.Fpdf) *page {
	if g.FontPath != "" {
		if _, err := os.Stat(g.FontPath); err == nil {
			pdf.AddUTF8Font("DejaVu", "", g.FontPath)
			pdf.AddUTF8Font("DejaVu", "B", g.FontPath)
			return &page{pdf: pdf, font: "DejaVu", tr: func(s string) string { return s }}
		}
	}
	return &page{pdf: pdf, font: "Helvetica", tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
