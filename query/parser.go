package query

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/SentiOne/siren-join/index"
)

// ErrParse is returned for malformed query sources.
var ErrParse = errors.New("query: parse error")

// maxDepth bounds nesting of bool queries.
const maxDepth = 32

// Parser turns JSON query sources into Query trees. Parsers are pooled;
// obtain one with AcquireParser and return it with Release.
type Parser struct {
	depth    int
	clauses  int
	released bool
}

var parserPool = sync.Pool{New: func() any { return &Parser{} }}

// AcquireParser returns a parser from the pool.
func AcquireParser() *Parser {
	p := parserPool.Get().(*Parser)
	p.released = false
	return p
}

// Release returns the parser to the pool. Extra calls are no-ops.
func (p *Parser) Release() {
	if p.released {
		return
	}
	p.released = true
	p.depth, p.clauses = 0, 0
	parserPool.Put(p)
}

// Clauses returns the number of leaf clauses parsed by the last Parse.
func (p *Parser) Clauses() int { return p.clauses }

// Parse parses a query source. A source with a top-level "query" member is
// unwrapped. An empty source yields MatchAll.
//
// Supported clauses:
//
//	{"match_all": {}}
//	{"term": {"user": "u1"}}            or {"term": {"user": {"value": "u1"}}}
//	{"terms": {"user": ["u1", "u2"]}}
//	{"range": {"ts": {"gte": "now-1d", "lt": "now"}}}
//	{"exists": {"field": "user"}}
//	{"bool": {"must": [...], "filter": [...], "should": [...], "must_not": [...],
//	          "minimum_should_match": 1}}
func (p *Parser) Parse(src []byte) (Query, error) {
	p.depth, p.clauses = 0, 0
	if len(strings.TrimSpace(string(src))) == 0 {
		return MatchAll{}, nil
	}
	if !gjson.ValidBytes(src) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrParse)
	}
	root := gjson.ParseBytes(src)
	if q := root.Get("query"); q.Exists() {
		root = q
	}
	return p.parse(root)
}

func (p *Parser) parse(r gjson.Result) (Query, error) {
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrParse, r.Type)
	}
	var (
		name string
		body gjson.Result
		n    int
	)
	r.ForEach(func(k, v gjson.Result) bool {
		name, body = k.String(), v
		n++
		return true
	})
	if n != 1 {
		return nil, fmt.Errorf("%w: query object must have exactly one clause, found %d", ErrParse, n)
	}

	switch name {
	case "match_all":
		p.clauses++
		return MatchAll{}, nil
	case "term":
		return p.parseTerm(body)
	case "terms":
		return p.parseTerms(body)
	case "range":
		return p.parseRange(body)
	case "exists":
		field := body.Get("field")
		if field.Type != gjson.String || field.String() == "" {
			return nil, fmt.Errorf("%w: [exists] requires a field", ErrParse)
		}
		p.clauses++
		return &Exists{Field: field.String()}, nil
	case "bool":
		return p.parseBool(body)
	default:
		return nil, fmt.Errorf("%w: no query registered for [%s]", ErrParse, name)
	}
}

func singleField(clause string, body gjson.Result) (string, gjson.Result, error) {
	if !body.IsObject() {
		return "", gjson.Result{}, fmt.Errorf("%w: [%s] expects an object", ErrParse, clause)
	}
	var (
		field string
		val   gjson.Result
		n     int
	)
	body.ForEach(func(k, v gjson.Result) bool {
		field, val = k.String(), v
		n++
		return true
	})
	if n != 1 {
		return "", gjson.Result{}, fmt.Errorf("%w: [%s] expects exactly one field, found %d", ErrParse, clause, n)
	}
	return field, val, nil
}

func (p *Parser) parseTerm(body gjson.Result) (Query, error) {
	field, val, err := singleField("term", body)
	if err != nil {
		return nil, err
	}
	if val.IsObject() {
		val = val.Get("value")
	}
	v, ok := scalar(val)
	if !ok {
		return nil, fmt.Errorf("%w: [term] on [%s] requires a scalar value", ErrParse, field)
	}
	p.clauses++
	return &Term{Field: field, Value: v}, nil
}

func (p *Parser) parseTerms(body gjson.Result) (Query, error) {
	field, val, err := singleField("terms", body)
	if err != nil {
		return nil, err
	}
	if !val.IsArray() {
		return nil, fmt.Errorf("%w: [terms] on [%s] requires an array", ErrParse, field)
	}
	q := &Terms{Field: field}
	for _, e := range val.Array() {
		v, ok := scalar(e)
		if !ok {
			return nil, fmt.Errorf("%w: [terms] on [%s] requires scalar values", ErrParse, field)
		}
		q.Values = append(q.Values, v)
	}
	p.clauses++
	return q, nil
}

func (p *Parser) parseRange(body gjson.Result) (Query, error) {
	field, val, err := singleField("range", body)
	if err != nil {
		return nil, err
	}
	if !val.IsObject() {
		return nil, fmt.Errorf("%w: [range] on [%s] expects an object", ErrParse, field)
	}
	q := &Range{Field: field}
	var perr error
	val.ForEach(func(k, v gjson.Result) bool {
		raw, ok := scalar(v)
		if !ok {
			perr = fmt.Errorf("%w: [range] on [%s]: [%s] requires a scalar", ErrParse, field, k.String())
			return false
		}
		switch k.String() {
		case "gt":
			q.Lower = &Bound{Raw: raw}
		case "gte", "from":
			q.Lower = &Bound{Raw: raw, Inclusive: true}
		case "lt":
			q.Upper = &Bound{Raw: raw}
		case "lte", "to":
			q.Upper = &Bound{Raw: raw, Inclusive: true}
		default:
			perr = fmt.Errorf("%w: [range] on [%s]: unknown parameter [%s]", ErrParse, field, k.String())
			return false
		}
		return true
	})
	if perr != nil {
		return nil, perr
	}
	if q.Lower == nil && q.Upper == nil {
		return nil, fmt.Errorf("%w: [range] on [%s] requires a bound", ErrParse, field)
	}
	for _, b := range []*Bound{q.Lower, q.Upper} {
		if b != nil && b.Raw.Kind == index.KindString && strings.HasPrefix(b.Raw.S, "now") {
			if _, err := ResolveDateMath(b.Raw.S, 0); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrParse, err)
			}
		}
	}
	p.clauses++
	return q, nil
}

func (p *Parser) parseBool(body gjson.Result) (Query, error) {
	if !body.IsObject() {
		return nil, fmt.Errorf("%w: [bool] expects an object", ErrParse)
	}
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return nil, fmt.Errorf("%w: bool nesting deeper than %d", ErrParse, maxDepth)
	}

	q := &Bool{}
	var perr error
	body.ForEach(func(k, v gjson.Result) bool {
		var dst *[]Query
		switch k.String() {
		case "must":
			dst = &q.Must
		case "filter":
			dst = &q.Filter
		case "should":
			dst = &q.Should
		case "must_not":
			dst = &q.MustNot
		case "minimum_should_match":
			if v.Type != gjson.Number || v.Int() < 0 {
				perr = fmt.Errorf("%w: [minimum_should_match] must be a non-negative integer", ErrParse)
				return false
			}
			q.MinimumShouldMatch = int(v.Int())
			return true
		default:
			perr = fmt.Errorf("%w: [bool] unknown clause [%s]", ErrParse, k.String())
			return false
		}
		clauses := []gjson.Result{v}
		if v.IsArray() {
			clauses = v.Array()
		}
		for _, c := range clauses {
			sub, err := p.parse(c)
			if err != nil {
				perr = err
				return false
			}
			*dst = append(*dst, sub)
		}
		return true
	})
	if perr != nil {
		return nil, perr
	}
	return q, nil
}

func scalar(v gjson.Result) (index.Value, bool) {
	switch v.Type {
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			return index.Float(v.Float()), true
		}
		return index.Int(v.Int()), true
	case gjson.String:
		return index.String(v.String()), true
	case gjson.True, gjson.False:
		return index.String(v.Raw), true
	default:
		return index.Value{}, false
	}
}
