package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareOrdersAcrossKinds(t *testing.T) {
	ordered := []Value{Null{}, Bool(false), Bool(true), Int(-1), Int(3), Text(""), Text("a"), Text("b")}
	for i := range ordered {
		for j := range ordered {
			got := Compare(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Equal(t, -1, got, "%v < %v", ordered[i], ordered[j])
			case i > j:
				assert.Equal(t, 1, got, "%v > %v", ordered[i], ordered[j])
			default:
				assert.Equal(t, 0, got)
			}
		}
	}
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, TypeInt, TypeOf(Int(1)))
	assert.Equal(t, TypeText, TypeOf(Text("x")))
	assert.Equal(t, TypeBool, TypeOf(Bool(true)))
	assert.Equal(t, TypeNull, TypeOf(Null{}))
	assert.Equal(t, TypeNull, TypeOf(nil))
	assert.True(t, IsNull(nil))
}

func TestFromNative(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  Value
	}{
		{"nil", nil, Null{}},
		{"string", "a", Text("a")},
		{"int", 5, Int(5)},
		{"int64", int64(-5), Int(-5)},
		{"integral float", float64(7), Int(7)},
		{"bool", true, Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromNative(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := FromNative(1.5)
	assert.ErrorContains(t, err, "floats are not supported")
	_, err = FromNative([]int{1})
	assert.Error(t, err)
}

func TestRowString(t *testing.T) {
	assert.Equal(t, `(1, "a", null, true)`, NewRow(1, "a", nil, true).String())
	assert.Equal(t, "()", Row{}.String())
}

func TestRowCompare(t *testing.T) {
	assert.Equal(t, -1, NewRow(1, 2).Compare(NewRow(1, 3)))
	assert.Equal(t, 1, NewRow(2).Compare(NewRow(1, 9)))
	assert.Equal(t, -1, NewRow(1).Compare(NewRow(1, 0)))
	assert.Equal(t, 0, NewRow("a", nil).Compare(NewRow("a", nil)))
}
