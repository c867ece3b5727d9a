package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Class groups Discord API failures by how callers should react.
type Class string

const (
	ClassNotFound    Class = "not_found"
	ClassForbidden   Class = "forbidden"
	ClassRateLimited Class = "rate_limited"
	ClassUnavailable Class = "discord_unavailable"
	ClassUnknown     Class = "unknown"
)

// Error is a classified Discord API failure.
type Error struct {
	Operation  string
	StatusCode int
	// Code is Discord's JSON error code, 0 when absent.
	Code      int
	Class     Class
	Temporary bool
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return "discord error"
	}
	status := "status unknown"
	if e.StatusCode > 0 {
		status = fmt.Sprintf("status %d", e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s failed (%s, %s): %v", e.Operation, status, e.Class, e.Cause)
	}
	return fmt.Sprintf("%s failed (%s, %s)", e.Operation, status, e.Class)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Classify reports the class of err. nil is ClassUnknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var pe *Error
	if errors.As(err, &pe) && pe != nil {
		return pe.Class
	}
	return classify(err).Class
}

// IsNotFound reports whether err means the target message, channel or role is gone.
func IsNotFound(err error) bool { return err != nil && Classify(err) == ClassNotFound }

// IsForbidden reports whether the bot lacks access or permission.
func IsForbidden(err error) bool { return err != nil && Classify(err) == ClassForbidden }

func wrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	e := classify(err)
	e.Operation = operation
	return e
}

func classify(err error) *Error {
	e := &Error{Class: ClassUnknown, Cause: err}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr != nil {
		if restErr.Message != nil {
			e.Code = restErr.Message.Code
		}
		if restErr.Response != nil {
			e.StatusCode = restErr.Response.StatusCode
		}
		switch e.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownRole:
			e.Class = ClassNotFound
			return e
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			e.Class = ClassForbidden
			return e
		}
		switch status := e.StatusCode; {
		case status == http.StatusNotFound:
			e.Class = ClassNotFound
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			e.Class = ClassForbidden
		case status == http.StatusTooManyRequests:
			e.Class = ClassRateLimited
			e.Temporary = true
		case status >= 500 && status < 600:
			e.Class = ClassUnavailable
			e.Temporary = true
		}
		return e
	}

	if strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		e.Class = ClassRateLimited
		e.StatusCode = http.StatusTooManyRequests
		e.Temporary = true
	}
	return e
}
