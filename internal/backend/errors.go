package backend

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConnected matches any error caused by the engine being unreachable.
	ErrNotConnected = errors.New("download engine not connected")
	// ErrNotFound matches engine rejections for an unknown external id.
	ErrNotFound = errors.New("download not found in engine")
)

// ConnectivityError wraps a transport failure.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func (e *ConnectivityError) Is(target error) bool {
	return target == ErrNotConnected
}

// RPCError is an error object returned by a reachable engine.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: engine error %d: %s", e.Method, e.Code, e.Message)
}

func (e *RPCError) Is(target error) bool {
	return target == ErrNotFound && strings.Contains(strings.ToLower(e.Message), "not found")
}

// IsConnectivity reports whether err means the engine could not be reached.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsNotFound reports whether the engine did not know the external id.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
