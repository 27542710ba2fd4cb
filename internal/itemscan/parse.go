package itemscan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxItems caps how many lines a single scan may return
const maxItems = 50

// parseItemsJSON parses a model response into line items. It accepts an
// {"items": [...]} object or a bare array, optionally inside markdown fences.
func parseItemsJSON(text string) ([]LineItem, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return nil, fmt.Errorf("no JSON found in response")
	}
	closing := "}"
	if text[start] == '[' {
		closing = "]"
	}
	end := strings.LastIndex(text, closing)
	if end < start {
		return nil, fmt.Errorf("invalid JSON in response")
	}
	text = text[start : end+1]

	var raw []LineItem
	if closing == "]" {
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
	} else {
		var wrapper struct {
			Items []LineItem `json:"items"`
		}
		if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
		raw = wrapper.Items
	}

	items := make([]LineItem, 0, len(raw))
	for _, it := range raw {
		it.Name = strings.TrimSpace(it.Name)
		it.Description = strings.TrimSpace(it.Description)
		if it.Name == "" && it.Description == "" {
			continue
		}
		if it.Name == "" {
			it.Name, it.Description = it.Description, ""
		}
		if it.AmountUSD.IsNegative() {
			continue
		}
		items = append(items, it)
		if len(items) == maxItems {
			break
		}
	}
	return items, nil
}
