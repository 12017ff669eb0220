package events

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindPermissionError Kind = "permission_error"
	KindNotification    Kind = "notification"
)

// Request methods recorded on a PermissionError.
const (
	MethodUpdate = "update"
	MethodDelete = "delete"
	MethodWrite  = "write"
)

// Notification titles shown to users.
const (
	TitleGenerationFailed = "Generation Failed"
	TitleNotLoggedIn      = "Not logged in"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Event is one entry on the bus. Exactly one of PermissionError or Notification is set.
type Event struct {
	Seq             uint64           `json:"seq"`
	Kind            Kind             `json:"kind"`
	User            string           `json:"user,omitempty"`
	Time            time.Time        `json:"time"`
	PermissionError *PermissionError `json:"permissionError,omitempty"`
	Notification    *Notification    `json:"notification,omitempty"`
}

type Auth struct {
	UID string `json:"uid"`
}

// RequestContext describes the access that was denied, in the shape security rules see it.
type RequestContext struct {
	Auth                *Auth  `json:"auth"`
	Method              string `json:"method"`
	Path                string `json:"path"`
	RequestResourceData any    `json:"request.resource.data,omitempty"`
}

// PermissionError is the descriptive form of a failed document write.
type PermissionError struct {
	Message string         `json:"message"`
	Context RequestContext `json:"context"`
	Cause   string         `json:"cause,omitempty"`
}

// NewPermissionError builds the error for a denied request. cause may be nil.
func NewPermissionError(ctx RequestContext, cause error) *PermissionError {
	pe := &PermissionError{
		Message: "Missing or insufficient permissions: The following request was denied by the document store",
		Context: ctx,
	}
	if cause != nil {
		pe.Cause = cause.Error()
	}
	return pe
}

func (e *PermissionError) Error() string {
	b, err := json.MarshalIndent(e.Context, "", "  ")
	if err != nil {
		return e.Message
	}
	return fmt.Sprintf("%s:\n%s", e.Message, b)
}

type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}
