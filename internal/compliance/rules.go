// SPDX-License-Identifier: MIT

package compliance

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ErrRuleFile marks unusable rule file uploads.
var ErrRuleFile = errors.New("rule file error")

var headerKeywords = []string{"必备要素", "检查", "标准", "序号", "注："}

var ruleIDPrefixRE = regexp.MustCompile(`(?s)^(\d+)\s*(.+)`)

// ParseRules reads an audit rule file. Column A carries the rules; columns
// B onward hold historical check results that become few-shot examples.
// Returns the rules plus the mined example strings.
func ParseRules(fileBytes []byte, filename string) ([]Rule, []string, error) {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") {
		return parseXLSX(fileBytes)
	}
	return parseCSV(fileBytes)
}

func parseCSV(fileBytes []byte) ([]Rule, []string, error) {
	text, err := decodeBytes(fileBytes)
	if err != nil {
		return nil, nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRuleFile, err)
	}

	return extractRows(records)
}

func parseXLSX(fileBytes []byte) ([]Rule, []string, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(fileBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRuleFile, err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%w: workbook has no sheets", ErrRuleFile)
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRuleFile, err)
	}

	return extractRows(rows)
}

// extractRows walks spreadsheet rows, splitting leading digits off column A
// into the rule id and mining non-pass cells as few-shot examples.
func extractRows(rows [][]string) ([]Rule, []string, error) {
	var rules []Rule
	var examples []string

	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		colA := strings.TrimSpace(row[0])
		if colA == "" {
			continue
		}
		if isHeaderRow(colA) {
			continue
		}
		// the trailing findings block is not rule material
		if strings.HasPrefix(colA, "存在的问题") {
			break
		}

		ruleID, content := splitRuleID(colA, len(rules)+1)
		if content == "" {
			continue
		}
		rules = append(rules, Rule{ID: ruleID, Content: content})

		for _, cell := range row[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" || cell == "合格" || cell == "不涉及" {
				continue
			}
			examples = append(examples, fmt.Sprintf("规则%d(%s...): %s", ruleID, truncateRunes(content, 20), cell))
		}
	}

	if len(rules) == 0 {
		return nil, nil, fmt.Errorf("%w: no rules found", ErrRuleFile)
	}
	return rules, examples, nil
}

func isHeaderRow(colA string) bool {
	for _, kw := range headerKeywords {
		if strings.Contains(colA, kw) {
			return true
		}
	}
	return false
}

// splitRuleID separates "4全程双录：..." into (4, "全程双录：...").
func splitRuleID(text string, fallbackID int) (int, string) {
	if m := ruleIDPrefixRE.FindStringSubmatch(text); m != nil {
		if id, err := strconv.Atoi(m[1]); err == nil {
			return id, strings.TrimSpace(m[2])
		}
	}
	return fallbackID, strings.TrimSpace(text)
}

// decodeBytes tries UTF-8 first (with or without BOM), then the legacy
// Chinese encodings rule files are commonly exported in.
func decodeBytes(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data), nil
	}

	for _, enc := range []transform.Transformer{
		simplifiedchinese.GBK.NewDecoder(),
		simplifiedchinese.GB18030.NewDecoder(),
	} {
		decoded, _, err := transform.Bytes(enc, data)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("%w: undecodable encoding, use UTF-8 or GBK", ErrRuleFile)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
