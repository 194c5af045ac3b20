package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/queryir"
)

func TestEvalBinary(t *testing.T) {
	cases := []struct {
		name  string
		op    ir.BinaryOp
		l, r  any
		want  any
		isErr bool
	}{
		{"int add", ir.OpAdd, 2, int64(3), int64(5), false},
		{"mixed widens", ir.OpMul, 2, 1.5, 3.0, false},
		{"null propagates", ir.OpAdd, nil, 1, nil, false},
		{"null comparison", ir.OpEq, nil, nil, nil, false},
		{"string compare", ir.OpLt, "a", "b", true, false},
		{"concat", ir.OpConcat, "n", 1, "n1", false},
		{"and", ir.OpAnd, true, false, false, false},
		{"division by zero", ir.OpDiv, 1, 0, nil, true},
		{"bad operands", ir.OpSub, "a", 1, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvalBinary(tc.op, tc.l, tc.r)
			if tc.isErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalFunction(t *testing.T) {
	cases := []struct {
		name string
		args []any
		want any
	}{
		{ir.FuncLower, []any{"MiXed"}, "mixed"},
		{ir.FuncUpper, []any{"a"}, "A"},
		{ir.FuncLength, []any{"héllo"}, int64(5)},
		{ir.FuncTrim, []any{"  x "}, "x"},
		{ir.FuncAbs, []any{int64(-4)}, int64(4)},
		{ir.FuncCoalesce, []any{nil, "x", "y"}, "x"},
		{ir.FuncSubstr, []any{"hello", 2, 3}, "ell"},
		{ir.FuncReplace, []any{"a-b-c", "-", "+"}, "a+b+c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvalFunction(tc.name, tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	got, err := EvalFunction(ir.FuncLower, []any{nil})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = EvalFunction("soundex", []any{"x"})
	assert.Error(t, err)
}

func TestPartialEval_KeepsRowDependentNodes(t *testing.T) {
	field := queryir.F("u", "Email")
	call := &queryir.Call{Func: ir.FuncLower, Args: []queryir.Expr{field}}

	out, err := PartialEval(call)
	require.NoError(t, err)
	assert.Same(t, call, out, "nothing to fold returns the same node")

	sum := &queryir.Binary{Op: queryir.OpAdd, Left: queryir.V(1), Right: queryir.V(2)}
	out, err = PartialEval(queryir.Eq(field, sum))
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.(*queryir.Binary).Right.(*queryir.Value).V)
}

func TestNominate(t *testing.T) {
	lit := &queryir.Binary{Op: queryir.OpAdd, Left: queryir.V(1), Right: queryir.V(2)}
	expr := queryir.Gt(queryir.F("u", "Age"), lit)

	candidates := Nominate(expr)
	assert.Len(t, candidates, 1)
	assert.True(t, candidates[lit], "only the maximal local sub-tree is nominated")
}

func TestBind(t *testing.T) {
	em, err := mapping.ResolveOf[customer](mapping.NewRegistry())
	require.NoError(t, err)
	proj := EntityProjection(em)

	email, err := Bind(proj.Projector, "Email")
	require.NoError(t, err)
	assert.Equal(t, "email", email.(*ir.Column).Name)

	whole, err := Bind(proj.Projector, "")
	require.NoError(t, err)
	assert.Same(t, proj.Projector, whole)

	_, err = Bind(proj.Projector, "Email.Domain")
	assert.True(t, IsCode(err, ErrCodeUnknownMember))

	_, err = Bind(proj.Projector, "Orders")
	assert.True(t, IsCode(err, ErrCodeUnsupported))
}
