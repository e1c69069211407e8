package margins

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/mmdatafocus/salesdesk_backend/money"
)

const reportSheet = "Drift"

var reportHeadings = []string{
	"SaleId", "ItemTitle",
	"StoredGrossMargin", "GrossMargin",
	"StoredCommissionableMargin", "CommissionableMargin",
	"Applied",
}

// BuildReport lays the change list out as one sheet, one row per drifted sale.
func BuildReport(res *Result) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return nil, err
	}
	for i, h := range reportHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(reportSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, c := range res.Changes {
		row := []interface{}{
			c.SaleId,
			c.ItemTitle,
			money.Value(c.StoredGrossMargin).StringFixed(money.Places),
			c.GrossMargin.StringFixed(money.Places),
			money.Value(c.StoredCommissionableMargin).StringFixed(money.Places),
			c.CommissionableMargin.StringFixed(money.Places),
			strconv.FormatBool(c.Applied),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	summaryRow := len(res.Changes) + 3
	if err := f.SetCellValue(reportSheet, fmt.Sprintf("A%d", summaryRow), "Processed"); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(reportSheet, fmt.Sprintf("B%d", summaryRow), res.Summary.Processed); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(reportSheet, fmt.Sprintf("C%d", summaryRow), "DryRun"); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(reportSheet, fmt.Sprintf("D%d", summaryRow), strconv.FormatBool(res.DryRun)); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteReport streams the xlsx workbook to w.
func WriteReport(w io.Writer, res *Result) error {
	f, err := BuildReport(res)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// SaveReport writes the workbook to filename.
func SaveReport(filename string, res *Result) error {
	f, err := BuildReport(res)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(filename)
}
