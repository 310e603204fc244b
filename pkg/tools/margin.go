package tools

import (
	"context"
	"fmt"
	"strings"
)

// MarginTool computes resale margins for a candidate flip: net profit after
// marketplace fees, shipping, and tax, plus ROI and the breakeven sale price.
type MarginTool struct{}

// NewMarginTool creates a margin calculator tool.
func NewMarginTool() *MarginTool {
	return &MarginTool{}
}

func (t *MarginTool) Name() string {
	return "margin_calc"
}

func (t *MarginTool) Description() string {
	return "Calculate net margin, ROI, and breakeven price for a resale candidate given cost, sale price, fees, shipping, and tax"
}

func (t *MarginTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cost": map[string]any{
				"type":        "number",
				"description": "Acquisition cost per unit",
			},
			"price": map[string]any{
				"type":        "number",
				"description": "Expected sale price per unit",
			},
			"fee_percent": map[string]any{
				"type":        "number",
				"description": "Marketplace fee as a percentage of sale price (default 0)",
			},
			"shipping": map[string]any{
				"type":        "number",
				"description": "Outbound shipping cost per unit (default 0)",
			},
			"tax_percent": map[string]any{
				"type":        "number",
				"description": "Sales tax on acquisition as a percentage of cost (default 0)",
			},
		},
		"required": []string{"cost", "price"},
	}
}

func (t *MarginTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	cost, err := numberArg(input, "cost", -1)
	if err != nil || cost < 0 {
		return errorOutput("cost must be a non-negative number"), nil
	}
	price, err := numberArg(input, "price", -1)
	if err != nil || price < 0 {
		return errorOutput("price must be a non-negative number"), nil
	}
	feePct, err := numberArg(input, "fee_percent", 0)
	if err != nil || feePct < 0 || feePct >= 100 {
		return errorOutput("fee_percent must be in [0, 100)"), nil
	}
	shipping, err := numberArg(input, "shipping", 0)
	if err != nil || shipping < 0 {
		return errorOutput("shipping must be a non-negative number"), nil
	}
	taxPct, err := numberArg(input, "tax_percent", 0)
	if err != nil || taxPct < 0 {
		return errorOutput("tax_percent must be a non-negative number"), nil
	}

	landed := cost * (1 + taxPct/100)
	fees := price * feePct / 100
	net := price - fees - shipping - landed
	breakeven := (landed + shipping) / (1 - feePct/100)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Landed cost: %.2f\n", landed)
	fmt.Fprintf(&sb, "Marketplace fees: %.2f\n", fees)
	fmt.Fprintf(&sb, "Net profit: %.2f\n", net)
	if landed > 0 {
		fmt.Fprintf(&sb, "ROI: %.1f%%\n", net/landed*100)
	}
	if price > 0 {
		fmt.Fprintf(&sb, "Margin: %.1f%% of sale price\n", net/price*100)
	}
	fmt.Fprintf(&sb, "Breakeven price: %.2f", breakeven)

	return ToolOutput{Content: sb.String()}, nil
}
