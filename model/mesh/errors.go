package mesh

import (
	"errors"
	"fmt"
)

// Expected failures of the relay protocol. These are benign conditions that
// callers are expected to branch on; every other error returned by this
// module or by the peer state machine is an exception that indicates a bug in
// the driver or a corrupted simulation state, and must abort the run.

// ErrEmptyPool is returned by neighbor recommendation when there are no
// candidates to recommend from, or the requested number is zero.
var ErrEmptyPool = errors.New("empty candidate pool")

// DuplicateOrderError indicates that an order submitted to a peer is already
// present in its pending table or local storage.
type DuplicateOrderError struct {
	OrderID OrderID
	PeerID  PeerID
}

func NewDuplicateOrderError(orderID OrderID, peerID PeerID) error {
	return DuplicateOrderError{OrderID: orderID, PeerID: peerID}
}

func (e DuplicateOrderError) Error() string {
	return fmt.Sprintf("order %d already known to peer %d", e.OrderID, e.PeerID)
}

// IsDuplicateOrderError returns whether err is a DuplicateOrderError.
func IsDuplicateOrderError(err error) bool {
	var target DuplicateOrderError
	return errors.As(err, &target)
}

// NotNeighborError indicates an order ingestion from a peer that is not a
// mutually registered neighbor of the receiver.
type NotNeighborError struct {
	Receiver PeerID
	Sender   PeerID
}

func NewNotNeighborError(receiver, sender PeerID) error {
	return NotNeighborError{Receiver: receiver, Sender: sender}
}

func (e NotNeighborError) Error() string {
	return fmt.Sprintf("peer %d is not a neighbor of peer %d", e.Sender, e.Receiver)
}

// IsNotNeighborError returns whether err is a NotNeighborError.
func IsNotNeighborError(err error) bool {
	var target NotNeighborError
	return errors.As(err, &target)
}

// InvalidParameterError indicates an invalid stochastic-process or policy
// parameter detected at configuration time. It is fatal: the run must not
// start.
type InvalidParameterError struct {
	Msg string
}

func NewInvalidParameterErrorf(msg string, args ...interface{}) error {
	return InvalidParameterError{Msg: fmt.Sprintf(msg, args...)}
}

func (e InvalidParameterError) Error() string {
	return "invalid parameter: " + e.Msg
}

// IsInvalidParameterError returns whether err is an InvalidParameterError.
func IsInvalidParameterError(err error) bool {
	var target InvalidParameterError
	return errors.As(err, &target)
}

// UnknownMethodError indicates that a policy, event-generation or measurement
// method name in the configuration has no implementation. It is fatal at
// setup time.
type UnknownMethodError struct {
	Axis   string
	Method string
}

func NewUnknownMethodError(axis, method string) error {
	return UnknownMethodError{Axis: axis, Method: method}
}

func (e UnknownMethodError) Error() string {
	return fmt.Sprintf("no such %s method: %q", e.Axis, e.Method)
}

// IsUnknownMethodError returns whether err is an UnknownMethodError.
func IsUnknownMethodError(err error) bool {
	var target UnknownMethodError
	return errors.As(err, &target)
}
