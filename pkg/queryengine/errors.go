package queryengine

import "errors"

// ErrNoQuestion describes a client message that carries no question
// section. Engine.Execute does not return it: it answers such a message
// with FORMERR directly.
var ErrNoQuestion = errors.New("queryengine: message has no question section")

// ErrResolutionFailed wraps any forwarder/recursive failure on a cache
// miss, the same fmt.Errorf("%w: ...") idiom the teacher's storage and
// forwarder packages use for their own error sets.
var ErrResolutionFailed = errors.New("queryengine: resolution failed")
