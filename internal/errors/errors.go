package appErrors

import "fmt"

// ErrBroadcastNotFound is returned when a broadcast id does not exist.
type ErrBroadcastNotFound struct {
	BroadcastID int64
}

func (e *ErrBroadcastNotFound) Error() string {
	return fmt.Sprintf("broadcast with ID %d not found", e.BroadcastID)
}

func NewBroadcastNotFound(id int64) error {
	return &ErrBroadcastNotFound{BroadcastID: id}
}

// ErrSegmentNotFound is returned when a segment id does not exist.
type ErrSegmentNotFound struct {
	SegmentID int64
}

func (e *ErrSegmentNotFound) Error() string {
	return fmt.Sprintf("segment with ID %d not found", e.SegmentID)
}

func NewSegmentNotFound(id int64) error {
	return &ErrSegmentNotFound{SegmentID: id}
}

// ErrInvalidTransition is returned when a status change violates the
// broadcast state machine. The request is rejected and no state is mutated.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid broadcast transition: %s -> %s", e.From, e.To)
}

func NewInvalidTransition(from, to string) error {
	return &ErrInvalidTransition{From: from, To: to}
}

// ErrNotEditable is returned when content mutation is attempted on a
// broadcast that has left draft.
type ErrNotEditable struct {
	BroadcastID int64
	Status      string
}

func (e *ErrNotEditable) Error() string {
	return fmt.Sprintf("broadcast %d cannot be edited in status %q", e.BroadcastID, e.Status)
}

func NewNotEditable(id int64, status string) error {
	return &ErrNotEditable{BroadcastID: id, Status: status}
}

// ErrUnknownFilterKey is a configuration error raised when a targeting
// definition carries a key outside the closed predicate set. Surfaced at
// creation time, never at resolution time.
type ErrUnknownFilterKey struct {
	Key string
}

func (e *ErrUnknownFilterKey) Error() string {
	return fmt.Sprintf("unknown filter key %q", e.Key)
}

func NewUnknownFilterKey(key string) error {
	return &ErrUnknownFilterKey{Key: key}
}

// ErrInvalidFilterValue is a configuration error for a known key holding
// an out-of-range or mistyped value.
type ErrInvalidFilterValue struct {
	Key    string
	Reason string
}

func (e *ErrInvalidFilterValue) Error() string {
	return fmt.Sprintf("invalid value for filter %q: %s", e.Key, e.Reason)
}

func NewInvalidFilterValue(key, reason string) error {
	return &ErrInvalidFilterValue{Key: key, Reason: reason}
}

// ErrAlreadyClaimed is returned by the conditional scheduled->sending
// update when another actor claimed the broadcast first.
type ErrAlreadyClaimed struct {
	BroadcastID int64
}

func (e *ErrAlreadyClaimed) Error() string {
	return fmt.Sprintf("broadcast %d already claimed for sending", e.BroadcastID)
}

func NewAlreadyClaimed(id int64) error {
	return &ErrAlreadyClaimed{BroadcastID: id}
}
