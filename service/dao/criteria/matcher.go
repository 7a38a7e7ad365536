// Package criteria evaluates dao list parameters against flow instances so
// that every backend filters and paginates identically.
package criteria

import (
	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/dao"
)

// Well-known parameter names understood by all backends.
const (
	ParamStatus        = "Status"
	ParamFlowType      = "FlowType"
	ParamUserID        = "UserID"
	ParamCorrelationID = "CorrelationID"
	ParamOffset        = "Offset"
	ParamLimit         = "Limit"
)

// Matches reports whether a flow instance passes every non-pagination
// parameter.
func Matches(flow *model.FlowDefinition, parameters []*dao.Parameter) bool {
	for _, p := range parameters {
		switch p.Name {
		case ParamStatus:
			if !matchString(string(flow.GetStatus()), p.Value) {
				return false
			}
		case ParamFlowType:
			if !matchString(flow.FlowType, p.Value) {
				return false
			}
		case ParamUserID:
			if !matchString(flow.UserID, p.Value) {
				return false
			}
		case ParamCorrelationID:
			if !matchString(flow.CorrelationID, p.Value) {
				return false
			}
		}
	}
	return true
}

// Paginate applies Offset/Limit parameters to an already-filtered list.
func Paginate(flows []*model.FlowDefinition, parameters []*dao.Parameter) []*model.FlowDefinition {
	offset, limit := 0, -1
	for _, p := range parameters {
		value, ok := p.Value.(int)
		if !ok {
			continue
		}
		switch p.Name {
		case ParamOffset:
			offset = value
		case ParamLimit:
			limit = value
		}
	}
	if offset >= len(flows) {
		return nil
	}
	flows = flows[offset:]
	if limit >= 0 && limit < len(flows) {
		flows = flows[:limit]
	}
	return flows
}

func matchString(actual string, expected interface{}) bool {
	switch value := expected.(type) {
	case string:
		return actual == value
	case []string:
		for _, v := range value {
			if actual == v {
				return true
			}
		}
		return false
	}
	return true
}
