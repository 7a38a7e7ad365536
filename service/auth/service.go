// Package auth defines the security provider contract the engine consults
// before starting a flow and before every step execution. Implementations
// are selectable per environment: the permissive default for development,
// the list-based provider for enterprise deployments.
package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned when a caller lacks access to a flow type or
// step; it is fatal per step and never retried.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Authorizer validates (userID, flowType) and (userID, stepName) access.
type Authorizer interface {
	// AuthorizeFlow checks that the user may start, resume or inspect the
	// flow type.
	AuthorizeFlow(userID, flowType string) error

	// AuthorizeStep checks that the user may execute the named step. It is
	// evaluated on every step since resumption may occur under a different
	// caller.
	AuthorizeStep(userID, stepName string) error
}

// Permissive allows everything; it is the development default.
type Permissive struct{}

// AuthorizeFlow always succeeds.
func (Permissive) AuthorizeFlow(string, string) error { return nil }

// AuthorizeStep always succeeds.
func (Permissive) AuthorizeStep(string, string) error { return nil }

// ListAuthorizer grants access through allow/block lists of
// "user:flowType" and "user:stepName" entries, compared case-insensitively.
// The wildcard "*" matches any user or any resource. The block list wins.
type ListAuthorizer struct {
	FlowAllowList []string
	FlowBlockList []string
	StepAllowList []string
	StepBlockList []string
}

// AuthorizeFlow evaluates the flow lists.
func (a *ListAuthorizer) AuthorizeFlow(userID, flowType string) error {
	if !allowed(userID, flowType, a.FlowAllowList, a.FlowBlockList) {
		return fmt.Errorf("%w: user %q cannot access flow type %q", ErrUnauthorized, userID, flowType)
	}
	return nil
}

// AuthorizeStep evaluates the step lists.
func (a *ListAuthorizer) AuthorizeStep(userID, stepName string) error {
	if !allowed(userID, stepName, a.StepAllowList, a.StepBlockList) {
		return fmt.Errorf("%w: user %q cannot execute step %q", ErrUnauthorized, userID, stepName)
	}
	return nil
}

func allowed(userID, resource string, allowList, blockList []string) bool {
	for _, entry := range blockList {
		if matches(entry, userID, resource) {
			return false
		}
	}
	if len(allowList) == 0 {
		return true
	}
	for _, entry := range allowList {
		if matches(entry, userID, resource) {
			return true
		}
	}
	return false
}

func matches(entry, userID, resource string) bool {
	parts := strings.SplitN(entry, ":", 2)
	if len(parts) != 2 {
		return false
	}
	user, target := parts[0], parts[1]
	if user != "*" && !strings.EqualFold(user, userID) {
		return false
	}
	return target == "*" || strings.EqualFold(target, resource)
}
