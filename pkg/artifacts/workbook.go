package artifacts

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"hearing-processor/pkg/models"
)

const (
	sheetJudgment = "Judgment"
	sheetOrders   = "Orders"
	sheetFactors  = "Key Factors"
	sheetTimeline = "Timeline"
)

// BuildWorkbook exports the judgment and analysis of a completed session as xlsx.
func BuildWorkbook(bundle *models.ResultBundle) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetJudgment); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetOrders, sheetFactors, sheetTimeline} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	rows := map[string][][]any{
		sheetJudgment: {{"Case", bundle.CaseID}, {"Session", bundle.SessionID}, {}, {"Sequence", "Category", "Timestamp (s)", "Confidence", "Text"}},
		sheetOrders:   {{"Type", "Description", "Amount", "Due date", "Affected parties"}},
		sheetFactors:  {{"Party", "Impact", "Strength", "Description", "Evidence"}},
		sheetTimeline: {{"Timestamp (s)", "Plaintiff %", "Defendant %", "Event"}},
	}

	if j := bundle.Judgment; j != nil {
		for _, p := range j.Points {
			rows[sheetJudgment] = append(rows[sheetJudgment], []any{p.Sequence, p.Category, p.Timestamp, p.Confidence, p.Text})
		}
		if d := j.FinalDecision; d != nil {
			rows[sheetJudgment] = append(rows[sheetJudgment], []any{}, []any{"Outcome", d.Outcome, "", d.Confidence, d.Reasoning})
		}
		for _, o := range j.Orders {
			var amount, due any = "", ""
			if o.Amount != nil {
				amount = *o.Amount
			}
			if o.DueDate != nil {
				due = o.DueDate.Format("2006-01-02")
			}
			rows[sheetOrders] = append(rows[sheetOrders], []any{o.Type, o.Description, amount, due, strings.Join(o.AffectedParties, ", ")})
		}
	}
	if a := bundle.Analysis; a != nil {
		for _, k := range a.KeyFactors {
			rows[sheetFactors] = append(rows[sheetFactors], []any{k.Party, string(k.Impact), k.Strength, k.Description, strings.Join(k.Evidence, ", ")})
		}
		for _, s := range a.Timeline {
			rows[sheetTimeline] = append(rows[sheetTimeline], []any{s.Timestamp, s.Plaintiff, s.Defendant, s.Event})
		}
	}

	for sheet, sheetRows := range rows {
		for i, row := range sheetRows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return nil, fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
