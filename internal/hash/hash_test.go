package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputsStable(t *testing.T) {
	first := Inputs(map[string]interface{}{"a": 1, "b": "two", "c": 3.5})
	second := Inputs(map[string]interface{}{"c": 3.5, "a": 1, "b": "two"})
	assert.Equal(t, first, second, "key order must not change the digest")
	assert.Len(t, first, 16)
}

func TestInputsDiffer(t *testing.T) {
	base := Inputs(map[string]interface{}{"amount": 100.0})
	changedValue := Inputs(map[string]interface{}{"amount": 101.0})
	changedKey := Inputs(map[string]interface{}{"total": 100.0})
	assert.NotEqual(t, base, changedValue)
	assert.NotEqual(t, base, changedKey)
}

func TestInputsEmptyAndNil(t *testing.T) {
	assert.Equal(t, Inputs(nil), Inputs(map[string]interface{}{}))
}
