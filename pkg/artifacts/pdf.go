package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"hearing-processor/pkg/models"
)

// JudgmentDocument is everything rendered into the hearing PDF.
type JudgmentDocument struct {
	SessionID    string
	CaseID       string
	HearingDate  time.Time
	Participants []models.Participant
	Judgment     *models.Judgment
	Analysis     *models.ProbabilityAnalysis
}

// PDFRenderer writes judgment documents into the blob store.
type PDFRenderer struct {
	blobs *BlobStore
}

func NewPDFRenderer(blobs *BlobStore) *PDFRenderer {
	return &PDFRenderer{blobs: blobs}
}

// PDFKey is the blob key of a session's judgment document.
func PDFKey(sessionID string) string {
	return "pdf/" + sessionID + ".pdf"
}

// Render produces the document and returns its storage reference.
func (r *PDFRenderer) Render(ctx context.Context, doc JudgmentDocument) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if doc.Judgment == nil {
		return "", pdfError(fmt.Errorf("no judgment to render"))
	}

	data, err := renderPDF(doc)
	if err != nil {
		return "", pdfError(err)
	}
	ref, err := r.blobs.Put(PDFKey(doc.SessionID), data)
	if err != nil {
		return "", pdfError(err)
	}
	return ref, nil
}

// Discard removes a rendered document whose session never completed.
func (r *PDFRenderer) Discard(ref string) error {
	return r.blobs.Delete(ref)
}

func pdfError(err error) error {
	return &models.ArtifactGenerationError{Stage: models.StagePDFGeneration, Err: err}
}

func renderPDF(doc JudgmentDocument) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Hearing judgment "+doc.CaseID, true)
	pdf.SetCreator("hearing-processor", true)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	heading := func(text string) {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, tr(text), "B", 1, "L", false, 0, "")
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "", 11)
	}
	para := func(text string) {
		pdf.MultiCell(0, 6, tr(text), "", "L", false)
	}

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr("Hearing Judgment"), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	para("Case: " + doc.CaseID)
	if !doc.HearingDate.IsZero() {
		para("Hearing date: " + doc.HearingDate.UTC().Format("2 January 2006 15:04 MST"))
	}
	para("Session: " + doc.SessionID)

	if len(doc.Participants) > 0 {
		heading("Participants")
		for _, p := range doc.Participants {
			para(fmt.Sprintf("%s (%s)", p.Name, p.Role))
		}
	}

	j := doc.Judgment
	heading("Judgment points")
	if len(j.Points) == 0 {
		para("No judgment points were recorded.")
	}
	for _, p := range j.Points {
		para(fmt.Sprintf("%d. [%s] %s", p.Sequence, p.Category, p.Text))
	}

	if j.FinalDecision != nil {
		heading("Final decision")
		para(fmt.Sprintf("Outcome: %s (confidence %.0f%%)", j.FinalDecision.Outcome, j.FinalDecision.Confidence*100))
		if j.FinalDecision.Reasoning != "" {
			para(j.FinalDecision.Reasoning)
		}
	}

	if len(j.Orders) > 0 {
		heading("Orders")
		for i, o := range j.Orders {
			line := fmt.Sprintf("%d. %s: %s", i+1, o.Type, o.Description)
			if o.Amount != nil {
				line += fmt.Sprintf(" Amount: %.2f.", *o.Amount)
			}
			if o.DueDate != nil {
				line += " Due: " + o.DueDate.Format("2006-01-02") + "."
			}
			if len(o.AffectedParties) > 0 {
				line += " Parties: " + strings.Join(o.AffectedParties, ", ") + "."
			}
			para(line)
		}
	}

	if j.NextHearingDate != nil {
		heading("Next hearing")
		para(j.NextHearingDate.Format("Monday, 2 January 2006"))
	}

	if a := doc.Analysis; a != nil {
		heading("Outcome assessment")
		para(fmt.Sprintf("Plaintiff %.0f%% / Defendant %.0f%% (model %s)", a.Overall.Plaintiff, a.Overall.Defendant, a.ModelVersion))
		for _, f := range a.KeyFactors {
			para(fmt.Sprintf("- %s [%s, %s, %.2f]", f.Description, f.Party, f.Impact, f.Strength))
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
