package vector

import (
	"strconv"
	"strings"
)

type Field string

const (
	FieldTenantID   Field = "tenant_id"
	FieldSubjectID  Field = "subject_id"
	FieldDocumentID Field = "document_id"
	// FieldRun is numeric; use EqInt.
	FieldRun Field = "run"
)

type filterOp int

const (
	opNone filterOp = iota
	opEq
	opIn
	opAnd
	opOr
)

// Filter is a boolean expression over chunk metadata. The zero value matches everything.
// It renders to a Milvus expression, evaluates in process, and expands to the
// disjunction of equality maps chromem understands.
type Filter struct {
	op       filterOp
	field    Field
	values   []string
	numeric  bool
	children []Filter
}

func Eq(field Field, value string) Filter {
	return Filter{op: opEq, field: field, values: []string{value}}
}

// EqInt compares a numeric field. Values are carried as decimal strings.
func EqInt(field Field, value int64) Filter {
	return Filter{op: opEq, field: field, values: []string{strconv.FormatInt(value, 10)}, numeric: true}
}

func In(field Field, values ...string) Filter {
	vs := make([]string, len(values))
	copy(vs, values)
	return Filter{op: opIn, field: field, values: vs}
}

func And(filters ...Filter) Filter {
	return combine(opAnd, filters)
}

func Or(filters ...Filter) Filter {
	return combine(opOr, filters)
}

func combine(op filterOp, filters []Filter) Filter {
	kept := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if !f.IsZero() {
			kept = append(kept, f)
		}
	}
	switch len(kept) {
	case 0:
		return Filter{}
	case 1:
		return kept[0]
	}
	return Filter{op: op, children: kept}
}

func (f Filter) IsZero() bool {
	return f.op == opNone
}

// Expr renders the filter in Milvus boolean expression syntax.
func (f Filter) Expr() string {
	switch f.op {
	case opEq:
		if f.numeric {
			return string(f.field) + " == " + f.values[0]
		}
		return string(f.field) + " == " + quote(f.values[0])
	case opIn:
		quoted := make([]string, len(f.values))
		for i, v := range f.values {
			quoted[i] = quote(v)
		}
		return string(f.field) + " in [" + strings.Join(quoted, ", ") + "]"
	case opAnd, opOr:
		sep := " && "
		if f.op == opOr {
			sep = " || "
		}
		parts := make([]string, len(f.children))
		for i, c := range f.children {
			parts[i] = "(" + c.Expr() + ")"
		}
		return strings.Join(parts, sep)
	}
	return ""
}

func (f Filter) String() string {
	if f.IsZero() {
		return "<all>"
	}
	return f.Expr()
}

// quote produces a double-quoted literal with backslashes and quotes escaped.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		if r == '\\' || r == '"' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// Match evaluates the filter against a chunk's metadata.
func (f Filter) Match(get func(Field) string) bool {
	switch f.op {
	case opEq:
		return get(f.field) == f.values[0]
	case opIn:
		v := get(f.field)
		for _, want := range f.values {
			if v == want {
				return true
			}
		}
		return false
	case opAnd:
		for _, c := range f.children {
			if !c.Match(get) {
				return false
			}
		}
		return true
	case opOr:
		for _, c := range f.children {
			if c.Match(get) {
				return true
			}
		}
		return false
	}
	return true
}

// Disjuncts expands the filter into an OR of equality maps. The zero filter expands to a
// single empty map; a filter that can never match expands to none.
func (f Filter) Disjuncts() []map[string]string {
	switch f.op {
	case opEq, opIn:
		out := make([]map[string]string, 0, len(f.values))
		for _, v := range f.values {
			out = append(out, map[string]string{string(f.field): v})
		}
		return out
	case opOr:
		var out []map[string]string
		for _, c := range f.children {
			out = append(out, c.Disjuncts()...)
		}
		return out
	case opAnd:
		acc := []map[string]string{{}}
		for _, c := range f.children {
			var next []map[string]string
			for _, left := range acc {
				for _, right := range c.Disjuncts() {
					if merged, ok := mergeTerms(left, right); ok {
						next = append(next, merged)
					}
				}
			}
			acc = next
		}
		return acc
	}
	return []map[string]string{{}}
}

func mergeTerms(a, b map[string]string) (map[string]string, bool) {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if prev, ok := out[k]; ok && prev != v {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}

func (c Chunk) field(f Field) string {
	switch f {
	case FieldTenantID:
		return c.TenantID
	case FieldSubjectID:
		return c.SubjectID
	case FieldDocumentID:
		return c.DocumentID
	case FieldRun:
		return strconv.FormatInt(c.Run, 10)
	}
	return ""
}

func chunkMetadata(c Chunk) map[string]string {
	return map[string]string{
		string(FieldTenantID):   c.TenantID,
		string(FieldSubjectID):  c.SubjectID,
		string(FieldDocumentID): c.DocumentID,
		"chunk_index":           strconv.Itoa(c.Index),
		string(FieldRun):        strconv.FormatInt(c.Run, 10),
		"start_pos":             strconv.Itoa(c.Start),
		"end_pos":               strconv.Itoa(c.End),
	}
}
