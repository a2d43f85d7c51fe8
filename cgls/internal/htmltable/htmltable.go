// Package htmltable extracts tabular data from server-rendered directory
// index pages. The manifest portal renders plain Apache-style listings, so
// a column lookup over the first table is all the navigation needed.
package htmltable

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Parser extracts columns from HTML tables. It implements the table-parsing
// collaborator consumed by the client.
type Parser struct{}

// Tables returns the cell text of every table in the document, with the
// first skipRows rows of each table dropped.
func (Parser) Tables(r io.Reader, skipRows int) ([][][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var tables [][][]string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows [][]string
		table.Find("tr").Each(func(i int, tr *goquery.Selection) {
			if i < skipRows {
				return
			}
			var cells []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			rows = append(rows, cells)
		})
		tables = append(tables, rows)
	})
	return tables, nil
}

// Column returns the non-empty values of the named column from the first
// table in the document. The first row remaining after skipRows is treated
// as the header row, mirroring how the portal's listing pages are shaped.
func (p Parser) Column(r io.Reader, header string, skipRows int) ([]string, error) {
	tables, err := p.Tables(r, skipRows)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 || len(tables[0]) == 0 {
		return nil, fmt.Errorf("no table found in document")
	}

	rows := tables[0]
	col := -1
	for i, cell := range rows[0] {
		if cell == header {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not found", header)
	}

	var values []string
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		if v := row[col]; v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}
