package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterExpr(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"zero", Filter{}, ""},
		{"eq", Eq(FieldTenantID, "u1"), `tenant_id == "u1"`},
		{"in", In(FieldDocumentID, "d1", "d2"), `document_id in ["d1", "d2"]`},
		{
			"and",
			And(Eq(FieldTenantID, "u1"), In(FieldDocumentID, "d1")),
			`(tenant_id == "u1") && (document_id in ["d1"])`,
		},
		{
			"or",
			Or(Eq(FieldSubjectID, "s1"), Eq(FieldSubjectID, "s2")),
			`(subject_id == "s1") || (subject_id == "s2")`,
		},
		{"and drops zero", And(Filter{}, Eq(FieldTenantID, "u1")), `tenant_id == "u1"`},
		{"numeric", And(Eq(FieldDocumentID, "d1"), EqInt(FieldRun, 3)), `(document_id == "d1") && (run == 3)`},
		{"escaping", Eq(FieldTenantID, `a"b\c`), `tenant_id == "a\"b\\c"`},
		{"injection attempt", Eq(FieldTenantID, `x" || tenant_id != "`), `tenant_id == "x\" || tenant_id != \""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Expr())
		})
	}
}

func TestFilterMatch(t *testing.T) {
	c := Chunk{TenantID: "u1", SubjectID: "s1", DocumentID: "d2"}
	assert.True(t, Filter{}.Match(c.field))
	assert.True(t, And(Eq(FieldTenantID, "u1"), In(FieldDocumentID, "d1", "d2")).Match(c.field))
	assert.False(t, And(Eq(FieldTenantID, "u2"), In(FieldDocumentID, "d1", "d2")).Match(c.field))
	assert.False(t, In(FieldDocumentID).Match(c.field))
	assert.True(t, Or(Eq(FieldSubjectID, "s9"), Eq(FieldSubjectID, "s1")).Match(c.field))
	assert.True(t, EqInt(FieldRun, 0).Match(c.field))
	assert.False(t, EqInt(FieldRun, 2).Match(c.field))
}

func TestFilterDisjuncts(t *testing.T) {
	f := And(Eq(FieldTenantID, "u1"), In(FieldDocumentID, "d1", "d2"))
	assert.ElementsMatch(t, []map[string]string{
		{"tenant_id": "u1", "document_id": "d1"},
		{"tenant_id": "u1", "document_id": "d2"},
	}, f.Disjuncts())

	assert.Equal(t, []map[string]string{{}}, Filter{}.Disjuncts())
	assert.Empty(t, In(FieldDocumentID).Disjuncts())

	conflicting := And(Eq(FieldTenantID, "u1"), Eq(FieldTenantID, "u2"))
	assert.Empty(t, conflicting.Disjuncts())
}
