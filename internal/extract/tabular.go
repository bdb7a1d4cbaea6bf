// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

func extractXLSX(content []byte) Result {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return degraded("xlsx: open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	props := map[string]any{
		"format":      "xlsx",
		"sheet_count": len(sheets),
		"sheet_names": sheets,
	}
	meta := Metadata{Properties: props}
	if dp, err := f.GetDocProps(); err == nil && dp != nil {
		meta.Title = strings.TrimSpace(dp.Title)
		meta.Author = strings.TrimSpace(dp.Creator)
		meta.LastModified = strings.TrimSpace(dp.Modified)
	}
	if len(sheets) == 0 {
		return Result{Metadata: meta, Diagnostic: "xlsx: workbook has no sheets"}
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return Result{Metadata: meta, Diagnostic: "xlsx: read sheet: " + err.Error()}
	}
	defer rows.Close()

	var (
		sample   [][]string
		rowCount int
		maxCols  int
		diag     string
	)
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			diag = "xlsx: read row: " + err.Error()
			break
		}
		rowCount++
		if len(cols) > maxCols {
			maxCols = len(cols)
		}
		if len(sample) < TablePreviewRows {
			sample = append(sample, cols)
		}
	}
	if err := rows.Error(); err != nil && diag == "" {
		diag = "xlsx: iterate rows: " + err.Error()
	}

	fillTableProps(props, sample, rowCount, maxCols)
	props["active_sheet"] = sheets[0]
	return Result{Text: tablePreview(sample), Metadata: meta, Diagnostic: diag}
}

func extractCSV(content []byte) Result {
	text, _, _ := decodeText(content, TypeCSV)
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		sample   [][]string
		rowCount int
		maxCols  int
		diag     string
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			diag = "csv: " + err.Error()
			break
		}
		rowCount++
		if len(rec) > maxCols {
			maxCols = len(rec)
		}
		if len(sample) < TablePreviewRows {
			sample = append(sample, rec)
		}
	}

	props := map[string]any{
		"format":      "csv",
		"sheet_count": 1,
	}
	fillTableProps(props, sample, rowCount, maxCols)
	return Result{
		Text:       tablePreview(sample),
		Metadata:   Metadata{Properties: props},
		Diagnostic: diag,
	}
}

// fillTableProps records counts for a table whose first row is the header.
func fillTableProps(props map[string]any, sample [][]string, rowCount, maxCols int) {
	dataRows := rowCount
	if dataRows > 0 {
		dataRows--
	}
	props["row_count"] = dataRows
	props["column_count"] = maxCols
	if len(sample) > 0 {
		props["headers"] = sample[0]
	} else {
		props["headers"] = []string{}
	}
	props["preview_rows"] = len(sample)
}

func tablePreview(rows [][]string) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(row, " | "))
	}
	return b.String()
}
