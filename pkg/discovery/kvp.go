package discovery

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
)

// SlotParamPrefix prefixes KVP parameters carrying stored query slot values.
const SlotParamPrefix = "slot."

// Constraint languages accepted by ParseGetRecordsKVP.
const (
	LanguageCQLText = "CQL_TEXT"
	LanguageCQLJSON = "CQL2_JSON"
	LanguageFilter  = "FILTER"
)

// kvp is a case-insensitive view over url.Values, as CSW parameter names
// are case-insensitive.
type kvp map[string][]string

func newKVP(values url.Values) kvp {
	out := make(kvp, len(values))
	for k, v := range values {
		key := strings.ToLower(k)
		out[key] = append(out[key], v...)
	}
	return out
}

func (p kvp) get(name string) string {
	v := p[strings.ToLower(name)]
	if len(v) == 0 {
		return ""
	}
	return strings.TrimSpace(v[0])
}

// ParseGetRecordsKVP binds a GetRecords request from key-value pairs.
// Failures are *ServiceError values naming the offending parameter.
func ParseGetRecordsKVP(values url.Values) (*GetRecords, error) {
	p := newKVP(values)
	req := &GetRecords{
		RequestID:     p.get("requestId"),
		StartPosition: 1,
		OutputSchema:  ParseOutputSchema(p.get("outputSchema")),
		TypeNames:     splitList(p.get("typeNames")),
	}

	rt, err := ParseResultType(p.get("resultType"))
	if err != nil {
		return nil, invalidParameter("resultType", err, "expected hits, results or validate")
	}
	req.ResultType = rt

	if s := p.get("startPosition"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, invalidParameter("startPosition", err, "not an integer: %q", s)
		}
		req.StartPosition = n
	}
	if s := p.get("maxRecords"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, invalidParameter("maxRecords", err, "not an integer: %q", s)
		}
		if n < 0 {
			return nil, invalidParameter("maxRecords", nil, "must not be negative, got %d", n)
		}
		req.MaxRecords = Max(n)
	}

	names := splitList(p.get("ElementName"))
	if len(names) > 0 && p.get("elementSetName") != "" {
		return nil, invalidParameter("ElementName", nil, "ElementName and elementSetName are mutually exclusive")
	}
	es, err := ParseElementSet(p.get("elementSetName"))
	if err != nil {
		return nil, invalidParameter("elementSetName", err, "expected brief, summary or full")
	}
	req.ElementSet = es
	req.ElementNames = names

	if s := p.get("sortBy"); s != "" {
		sortBy, err := ParseSortBy(s)
		if err != nil {
			return nil, invalidParameter("sortBy", err, "malformed sort specification")
		}
		req.SortBy = sortBy
	}

	if id := p.get("storedQueryId"); id != "" {
		if p.get("constraint") != "" {
			return nil, invalidParameter("constraint", nil, "constraint cannot be combined with storedQueryId")
		}
		req.Adhoc = &adhoc.Request{QueryID: id, Slots: slotValues(values)}
		return req, nil
	}

	if s := p.get("constraint"); s != "" {
		op, err := ParseConstraint(p.get("constraintLanguage"), s)
		if err != nil {
			return nil, err
		}
		req.Constraint = op
	}
	return req, nil
}

// ParseConstraint parses a constraint in the named language. An empty
// language is inferred from the text: a leading brace means CQL2 JSON.
func ParseConstraint(language, text string) (filter.Operator, error) {
	lang := strings.ToUpper(language)
	if lang == "" {
		lang = LanguageCQLText
		if strings.HasPrefix(text, "{") {
			lang = LanguageCQLJSON
		}
	}
	switch lang {
	case LanguageCQLText:
		op, err := filter.ParseText(text)
		if err != nil {
			return nil, invalidParameter("constraint", err, "invalid CQL text")
		}
		return op, nil
	case LanguageCQLJSON, "JSON":
		op, err := filter.Parse([]byte(text))
		if err != nil {
			return nil, invalidParameter("constraint", err, "invalid CQL2 JSON")
		}
		return op, nil
	case LanguageFilter:
		return nil, &ServiceError{
			Code:    CodeOperationNotSupported,
			Locator: "constraintLanguage",
			Message: "XML filter encoding is not supported",
			Kind:    ErrInvalidRequest,
		}
	default:
		return nil, invalidParameter("constraintLanguage", nil, "unknown constraint language %q", language)
	}
}

// ParseSortBy parses "prop:A,prop:D". A missing order is ascending. The
// order is taken from after the last colon only when it is a known order
// token, so namespaced properties like "dc:title" sort ascending.
func ParseSortBy(s string) ([]filter.SortProperty, error) {
	var out []filter.SortProperty
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prop, order := part, filter.Ascending
		if i := strings.LastIndexByte(part, ':'); i >= 0 {
			switch strings.ToUpper(part[i+1:]) {
			case "A", "ASC":
				prop = part[:i]
			case "D", "DESC":
				prop, order = part[:i], filter.Descending
			}
		}
		if prop == "" {
			return nil, fmt.Errorf("empty sort property in %q", part)
		}
		out = append(out, filter.Sort(prop, order))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sort properties in %q", s)
	}
	return out, nil
}

func slotValues(values url.Values) map[string]string {
	out := map[string]string{}
	for k, v := range values {
		if len(v) == 0 || len(k) <= len(SlotParamPrefix) {
			continue
		}
		if strings.EqualFold(k[:len(SlotParamPrefix)], SlotParamPrefix) {
			out[k[len(SlotParamPrefix):]] = v[0]
		}
	}
	return out
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil
	}
	return fields
}
