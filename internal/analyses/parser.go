package analyses

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"label-decoder/internal/records"
)

// ParseResult is the structured view of one model response.
type ParseResult struct {
	Status string         `json:"parseStatus"`
	Fields records.Fields `json:"fields"`
}

// Parse extracts structured fields from raw model output. It never fails:
// a well-formed JSON block carrying all five sections yields FULL, anything
// recovered by JSON or by section headings yields PARTIAL, and text with no
// recognisable structure yields UNPARSEABLE with empty fields. Parse is pure.
func Parse(raw string) ParseResult {
	strict, seen := decodeStrict(raw)
	if len(seen) == 5 && strict.Complete() {
		return ParseResult{Status: records.ParseFull, Fields: strict}
	}

	heur, recognized := scanHeuristics(raw)
	fields := strict
	if !seen[keyProduct] {
		fields.Product = heur.Product
	}
	if !seen[keyIngredients] {
		fields.Ingredients = heur.Ingredients
	}
	if !seen[keyAllergens] {
		fields.Allergens = heur.Allergens
	}
	if !seen[keyHealth] {
		fields.HealthScore = heur.HealthScore
	}
	if !seen[keyRecommendations] {
		fields.Recommendations = heur.Recommendations
	}

	if len(seen) == 0 && !recognized {
		return ParseResult{Status: records.ParseUnparseable}
	}
	return ParseResult{Status: records.ParsePartial, Fields: fields}
}

type fieldKey int

const (
	keyProduct fieldKey = iota
	keyIngredients
	keyAllergens
	keyHealth
	keyRecommendations
)

var jsonKeyAliases = map[string]fieldKey{
	"product":                keyProduct,
	"product_identity":       keyProduct,
	"product_information":    keyProduct,
	"product_info":           keyProduct,
	"ingredients":            keyIngredients,
	"ingredient_list":        keyIngredients,
	"ingredients_analysis":   keyIngredients,
	"allergens":              keyAllergens,
	"allergen_warnings":      keyAllergens,
	"allergen":               keyAllergens,
	"health_score":           keyHealth,
	"health_rating":          keyHealth,
	"healthscore":            keyHealth,
	"rating":                 keyHealth,
	"recommendations":        keyRecommendations,
	"recommendation":         keyRecommendations,
	"health_recommendations": keyRecommendations,
}

var productKeyAliases = map[string]string{
	"name":         "name",
	"product_name": "name",
	"title":        "name",
	"brand":        "brand",
	"brand_name":   "brand",
	"manufacturer": "brand",
	"category":     "category",
	"type":         "category",
	"product_type": "category",
	"net_quantity": "quantity",
	"net_weight":   "quantity",
	"net_contents": "quantity",
	"quantity":     "quantity",
	"volume":       "quantity",
}

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// decodeStrict decodes the JSON block of raw, returning the fields and the
// set of section keys the block carried (null values count as carried).
func decodeStrict(raw string) (records.Fields, map[fieldKey]bool) {
	obj := jsonObject(raw)
	if obj == nil {
		return records.Fields{}, nil
	}

	// Sorted keys keep alias collisions deterministic.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields records.Fields
	seen := map[fieldKey]bool{}
	for _, k := range keys {
		v := obj[k]
		key, ok := jsonKeyAliases[normalizeKey(k)]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		if isNull(v) {
			continue
		}
		switch key {
		case keyProduct:
			fields.Product = decodeProduct(v)
		case keyIngredients:
			fields.Ingredients = decodeList(v, listIngredients)
		case keyAllergens:
			fields.Allergens = decodeList(v, listAllergens)
		case keyHealth:
			fields.HealthScore = decodeScore(v)
		case keyRecommendations:
			fields.Recommendations = decodeList(v, listRecommendations)
		}
	}
	return fields, seen
}

// jsonObject returns the JSON object most likely to hold the analysis,
// preferring a fenced block. Otherwise every '{' is tried as the start of an
// object, so stray braces in prose before the payload are skipped. An object
// carrying a known key wins over one that merely decodes. A single wrapper
// object (e.g. {"analysis": {...}}) is unwrapped.
func jsonObject(raw string) map[string]json.RawMessage {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		var obj map[string]json.RawMessage
		if json.Unmarshal([]byte(m[1]), &obj) == nil {
			return unwrapObject(obj)
		}
	}

	var fallback map[string]json.RawMessage
	for i := 0; i < len(raw); {
		off := strings.IndexByte(raw[i:], '{')
		if off < 0 {
			break
		}
		i += off
		var obj map[string]json.RawMessage
		dec := json.NewDecoder(strings.NewReader(raw[i:]))
		if err := dec.Decode(&obj); err != nil {
			i++
			continue
		}
		obj = unwrapObject(obj)
		if hasKnownKey(obj) {
			return obj
		}
		if fallback == nil {
			fallback = obj
		}
		i += int(dec.InputOffset())
	}
	return fallback
}

func unwrapObject(obj map[string]json.RawMessage) map[string]json.RawMessage {
	if len(obj) == 1 {
		if inner := unwrapSingle(obj); inner != nil {
			return inner
		}
	}
	return obj
}

func hasKnownKey(obj map[string]json.RawMessage) bool {
	for k := range obj {
		if _, known := jsonKeyAliases[normalizeKey(k)]; known {
			return true
		}
	}
	return false
}

func unwrapSingle(obj map[string]json.RawMessage) map[string]json.RawMessage {
	for k, v := range obj {
		if _, known := jsonKeyAliases[normalizeKey(k)]; known {
			return nil
		}
		var inner map[string]json.RawMessage
		if json.Unmarshal(v, &inner) == nil {
			return inner
		}
	}
	return nil
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	return k
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

func decodeProduct(v json.RawMessage) *records.ProductIdentity {
	var p records.ProductIdentity
	var s string
	if json.Unmarshal(v, &s) == nil {
		p.Name = cleanItem(s)
	} else {
		var obj map[string]json.RawMessage
		if json.Unmarshal(v, &obj) != nil {
			return nil
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val := scalarString(obj[k])
			switch productKeyAliases[normalizeKey(k)] {
			case "name":
				setOnce(&p.Name, val)
			case "brand":
				setOnce(&p.Brand, val)
			case "category":
				setOnce(&p.Category, val)
			case "quantity":
				setOnce(&p.NetQuantity, val)
			}
		}
	}
	if p.Empty() {
		return nil
	}
	return &p
}

type listKind int

const (
	listIngredients listKind = iota
	listAllergens
	listRecommendations
)

// decodeList accepts an array (of strings, numbers or {"name": ...} objects)
// or a string: delimited for ingredients and allergens, one item per line for
// recommendations. An empty slice means the section was given but held nothing.
func decodeList(v json.RawMessage, kind listKind) []string {
	dropPlaceholders := kind != listRecommendations
	var s string
	if json.Unmarshal(v, &s) == nil {
		if kind == listRecommendations {
			return cleanList(strings.Split(s, "\n"), false)
		}
		if kind == listAllergens {
			s = trimContainsLead(s)
		}
		return cleanList(splitDelimited(s, kind == listAllergens), dropPlaceholders)
	}
	var arr []json.RawMessage
	if json.Unmarshal(v, &arr) != nil {
		return nil
	}
	items := make([]string, 0, len(arr))
	for _, el := range arr {
		if str := scalarString(el); str != "" {
			items = append(items, str)
			continue
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(el, &obj) == nil {
			for _, key := range []string{"name", "ingredient", "allergen", "text", "recommendation"} {
				if raw, ok := obj[key]; ok {
					if str := scalarString(raw); str != "" {
						items = append(items, str)
						break
					}
				}
			}
		}
	}
	return cleanList(items, dropPlaceholders)
}

func decodeScore(v json.RawMessage) *int {
	var n float64
	if json.Unmarshal(v, &n) == nil {
		return scoreFromFloat(n)
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return scoreFromText(s)
	}
	return nil
}

func scalarString(v json.RawMessage) string {
	var s string
	if json.Unmarshal(v, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(v, &n) == nil {
		return n.String()
	}
	return ""
}

var numberToken = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// scoreFromText takes the first numeric token of s. Only whole numbers in
// [1,10] are kept; nothing is clamped or rounded.
func scoreFromText(s string) *int {
	tok := numberToken.FindString(s)
	if tok == "" {
		return nil
	}
	n, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil
	}
	return scoreFromFloat(n)
}

func scoreFromFloat(n float64) *int {
	if math.IsNaN(n) || n != math.Trunc(n) || n < 1 || n > 10 {
		return nil
	}
	v := int(n)
	return &v
}

type sectionKind int

const (
	secOther sectionKind = iota
	secProduct
	secName
	secBrand
	secCategory
	secQuantity
	secIngredients
	secAllergens
	secHealth
	secRecommendations
)

var headerPhrases = map[string]sectionKind{
	"product information":     secProduct,
	"product identity":        secProduct,
	"product details":         secProduct,
	"product info":            secProduct,
	"product":                 secProduct,
	"product name":            secName,
	"name":                    secName,
	"brand name":              secBrand,
	"brand":                   secBrand,
	"manufacturer":            secBrand,
	"product type":            secCategory,
	"product category":        secCategory,
	"category":                secCategory,
	"type":                    secCategory,
	"net weight":              secQuantity,
	"net wt":                  secQuantity,
	"net quantity":            secQuantity,
	"net volume":              secQuantity,
	"net contents":            secQuantity,
	"ingredients":             secIngredients,
	"ingredient list":         secIngredients,
	"ingredient":              secIngredients,
	"allergens":               secAllergens,
	"allergen":                secAllergens,
	"allergen warnings":       secAllergens,
	"allergy information":     secAllergens,
	"allergy warnings":        secAllergens,
	"contains":                secAllergens,
	"health rating":           secHealth,
	"health score":            secHealth,
	"overall health rating":   secHealth,
	"healthiness rating":      secHealth,
	"rating":                  secHealth,
	"score":                   secHealth,
	"recommendations":         secRecommendations,
	"recommendation":          secRecommendations,
	"suggestions":             secRecommendations,
	"advice":                  secRecommendations,
	"nutritional information": secOther,
	"nutritional analysis":    secOther,
	"nutrition facts":         secOther,
	"nutritional":             secOther,
	"nutrition":               secOther,
	"additional information":  secOther,
	"additional notes":        secOther,
	"potential concerns":      secOther,
	"concerns":                secOther,
	"health & safety":         secOther,
	"health and safety":       secOther,
	"summary":                 secOther,
	"notes":                   secOther,
	"warnings":                secOther,
	"certifications":          secOther,
	"dietary information":     secOther,
}

var headerLine = buildHeaderRegexp()

func buildHeaderRegexp() *regexp.Regexp {
	phrases := make([]string, 0, len(headerPhrases))
	for p := range headerPhrases {
		phrases = append(phrases, p)
	}
	// Longest first so "product name" wins over "product".
	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})
	alts := make([]string, len(phrases))
	for i, p := range phrases {
		alts[i] = strings.ReplaceAll(regexp.QuoteMeta(p), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)^(` + strings.Join(alts, "|") + `)` +
		`(?:\s+(?:analysis|list|information|info|breakdown|warnings?|assessment|details))*` +
		`\s*(?:\([^)]*\))?\s*(?::\s*(.*))?$`)
}

var linePrefix = regexp.MustCompile(`^\s*(?:#{1,6}\s*|>\s*|•\s*|[-*+]\s+|\d{1,2}[.)]\s+)*`)

var healthMention = regexp.MustCompile(`(?i)\b(?:health(?:iness)?\s*(?:score|rating)|rating)\b[^0-9\n]{0,40}?(-?\d+(?:\.\d+)?)`)

var outOfTen = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*(?:/|out\s+of)\s*10\b`)

type section struct {
	kind  sectionKind
	lines []string
}

// scanHeuristics recovers sections by heading. recognized is true when any
// heading or health mention was found, even if its value was later dropped.
func scanHeuristics(raw string) (records.Fields, bool) {
	sections := splitSections(raw)
	recognized := false
	var fields records.Fields
	var product records.ProductIdentity
	productBlock := ""
	healthFromSection := false

	for _, sec := range sections {
		if sec.kind == secOther {
			continue
		}
		recognized = true
		switch sec.kind {
		case secProduct:
			if productBlock == "" {
				productBlock = firstLine(sec.lines)
			}
		case secName:
			setOnce(&product.Name, firstLine(sec.lines))
		case secBrand:
			setOnce(&product.Brand, firstLine(sec.lines))
		case secCategory:
			setOnce(&product.Category, firstLine(sec.lines))
		case secQuantity:
			setOnce(&product.NetQuantity, firstLine(sec.lines))
		case secIngredients:
			if fields.Ingredients == nil {
				fields.Ingredients = sectionList(sec.lines, false)
			}
		case secAllergens:
			if fields.Allergens == nil {
				fields.Allergens = sectionList(sec.lines, true)
			}
		case secHealth:
			text := strings.Join(sec.lines, "\n")
			if !healthFromSection && numberToken.MatchString(text) {
				healthFromSection = true
				fields.HealthScore = scoreFromText(text)
			}
		case secRecommendations:
			if fields.Recommendations == nil {
				fields.Recommendations = recommendationList(sec.lines)
			}
		}
	}

	if product.Name == "" {
		product.Name = productBlock
	}
	if !product.Empty() {
		fields.Product = &product
	}

	if !healthFromSection {
		if m := healthMention.FindStringSubmatch(raw); m != nil {
			recognized = true
			fields.HealthScore = scoreFromText(m[1])
		} else if m := outOfTen.FindStringSubmatch(raw); m != nil {
			recognized = true
			fields.HealthScore = scoreFromText(m[1])
		}
	}
	return fields, recognized
}

func splitSections(raw string) []section {
	var out []section
	cur := -1
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		line = strings.NewReplacer("**", "", "__", "").Replace(line)
		stripped := strings.TrimSpace(linePrefix.ReplaceAllString(line, ""))
		if m := headerLine.FindStringSubmatch(stripped); m != nil {
			phrase := strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
			out = append(out, section{kind: headerPhrases[phrase]})
			cur = len(out) - 1
			if rest := strings.TrimSpace(m[2]); rest != "" {
				out[cur].lines = append(out[cur].lines, rest)
			}
			continue
		}
		if cur >= 0 {
			out[cur].lines = append(out[cur].lines, line)
		}
	}
	return out
}

// sectionList itemises a list section. Bulleted lines are one item each;
// running text is split on commas and semicolons outside parentheses and
// ends at the first blank line. It returns nil for a heading with no content.
func sectionList(lines []string, splitAnd bool) []string {
	var items []string
	bulleted := false
	var prose []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(items) > 0 && !bulleted {
				break
			}
			continue
		}
		if strings.HasSuffix(trimmed, ":") {
			continue
		}
		body := strings.TrimSpace(linePrefix.ReplaceAllString(trimmed, ""))
		if body != trimmed {
			bulleted = true
		}
		items = append(items, body)
		prose = append(prose, body)
	}
	if len(items) == 0 {
		return nil
	}
	if !bulleted {
		text := strings.Join(prose, " ")
		if splitAnd {
			text = trimContainsLead(text)
		}
		items = splitDelimited(text, splitAnd)
	}
	return cleanList(items, true)
}

// trimContainsLead drops a leading "Contains" from allergen prose such as
// "Contains wheat and milk".
func trimContainsLead(s string) string {
	for _, lead := range []string{"contains:", "contains "} {
		if hasPrefixFold(s, lead) {
			return strings.TrimSpace(s[len(lead):])
		}
	}
	return s
}

func recommendationList(lines []string) []string {
	var items []string
	for _, line := range lines {
		body := strings.TrimSpace(linePrefix.ReplaceAllString(line, ""))
		if body == "" || strings.HasSuffix(body, ":") {
			continue
		}
		items = append(items, body)
	}
	if len(items) == 0 {
		return nil
	}
	return cleanList(items, false)
}

// splitDelimited splits on ',' and ';' (and optionally the word "and") at
// parenthesis depth zero.
func splitDelimited(s string, splitAnd bool) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		case ',', ';':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		case ' ':
			if splitAnd && depth == 0 && hasPrefixFold(s[i:], " and ") {
				out = append(out, s[start:i])
				start = i + len(" and ")
				i += len(" and ") - 1
			}
		}
	}
	return append(out, s[start:])
}

var placeholders = map[string]bool{
	"none": true, "n/a": true, "na": true, "nil": true, "null": true, "-": true,
	"unknown": true, "not visible": true, "not listed": true, "not available": true,
	"not specified": true, "not applicable": true, "not legible": true,
}

func isPlaceholder(item string) bool {
	l := strings.ToLower(strings.Trim(item, " .!"))
	if placeholders[l] {
		return true
	}
	for _, prefix := range []string{"none ", "no known ", "no allergen", "not visible", "not listed", "not legible"} {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// cleanList trims items, drops empties and duplicates, and optionally drops
// placeholder items such as "none". The result is never nil.
func cleanList(items []string, dropPlaceholders bool) []string {
	out := make([]string, 0, len(items))
	seen := map[string]bool{}
	for _, item := range items {
		c := cleanItem(item)
		if c == "" {
			continue
		}
		if dropPlaceholders && isPlaceholder(c) {
			continue
		}
		if seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		out = append(out, c)
	}
	return out
}

func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	for _, prefix := range []string{"and ", "or "} {
		if hasPrefixFold(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(s)
}

// hasPrefixFold reports whether s starts with the ASCII prefix, ignoring case.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func firstLine(lines []string) string {
	for _, line := range lines {
		if body := cleanItem(linePrefix.ReplaceAllString(line, "")); body != "" {
			return body
		}
	}
	return ""
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
