package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	gopdf "github.com/ledongthuc/pdf"
)

// maxPriceRows bounds tool output for pathological supplier sheets.
const maxPriceRows = 500

var priceRowPattern = regexp.MustCompile(`[$€£]\s?\d[\d,]*\.?\d*|\b\d[\d,]*\.\d{2}\b`)

// PriceListTool extracts price rows from supplier PDF price sheets. Rows are
// lines of page text containing at least one currency-looking value,
// optionally filtered by a SKU or keyword substring.
type PriceListTool struct{}

// NewPriceListTool creates a PDF price list extraction tool.
func NewPriceListTool() *PriceListTool {
	return &PriceListTool{}
}

func (t *PriceListTool) Name() string {
	return "pricelist_extract"
}

func (t *PriceListTool) Description() string {
	return "Extract price rows from a supplier PDF price list, optionally restricted to a page range or filtered by a SKU/keyword substring"
}

func (t *PriceListTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path to the PDF price list",
			},
			"pages": map[string]any{
				"type":        "string",
				"description": "Page range like '2-5' or a single page like '3' (default: all pages)",
			},
			"filter": map[string]any{
				"type":        "string",
				"description": "Case-insensitive substring a row must contain, e.g. a SKU or brand",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *PriceListTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	path, err := stringArg(input, "file_path")
	if err != nil {
		return errorOutput("%v", err), nil
	}
	pages, _ := input["pages"].(string)
	filter, _ := input["filter"].(string)
	filter = strings.ToLower(filter)

	f, reader, err := gopdf.Open(path)
	if err != nil {
		return errorOutput("failed to open PDF: %v", err), nil
	}
	defer f.Close()

	total := reader.NumPage()
	start, end, err := parsePageRange(pages, total)
	if err != nil {
		return errorOutput("%v", err), nil
	}

	var rows []string
	for i := start; i <= end; i++ {
		if ctx.Err() != nil {
			return ToolOutput{}, ctx.Err()
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // skip pages that fail text extraction
		}
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || !priceRowPattern.MatchString(line) {
				continue
			}
			if filter != "" && !strings.Contains(strings.ToLower(line), filter) {
				continue
			}
			rows = append(rows, fmt.Sprintf("p%d: %s", i, line))
			if len(rows) >= maxPriceRows {
				break
			}
		}
		if len(rows) >= maxPriceRows {
			break
		}
	}

	if len(rows) == 0 {
		return ToolOutput{Content: fmt.Sprintf("No price rows found in %s (pages %d-%d)", path, start, end)}, nil
	}
	header := fmt.Sprintf("Extracted %d price rows from %s (pages %d-%d):\n", len(rows), path, start, end)
	return ToolOutput{Content: header + strings.Join(rows, "\n")}, nil
}

// parsePageRange parses "N", "N-M", or "" (all pages) against the document's
// page count, clamping to valid bounds.
func parsePageRange(spec string, total int) (int, int, error) {
	if total < 1 {
		return 0, 0, fmt.Errorf("PDF has no pages")
	}
	if spec == "" {
		return 1, total, nil
	}
	first, second, isRange := strings.Cut(spec, "-")
	start, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || start < 1 {
		return 0, 0, fmt.Errorf("invalid page range %q", spec)
	}
	end := start
	if isRange {
		end, err = strconv.Atoi(strings.TrimSpace(second))
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("invalid page range %q", spec)
		}
	}
	if start > total {
		return 0, 0, fmt.Errorf("page %d out of range (document has %d pages)", start, total)
	}
	if end > total {
		end = total
	}
	return start, end, nil
}
