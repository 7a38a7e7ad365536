package dao

// Parameter is a named list-filter value. Well-known names are defined in
// the criteria package; unknown names are ignored by backends.
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter creates a filter parameter; multiple values match any-of.
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// NewIntParameter creates an integer-valued parameter, used for pagination.
func NewIntParameter(name string, value int) *Parameter {
	return &Parameter{Name: name, Value: value}
}
