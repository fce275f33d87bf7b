package amqpError

import (
	"errors"
	"fmt"
)

// Error is a protocol failure carrying everything needed to build a
// channel.close or connection.close frame. Broker code returns it and the
// connection turns it into a close frame at a single point.
type Error struct {
	Code     AmqpError
	Text     string
	ClassID  uint16
	MethodID uint16

	// Hard errors close the whole connection, soft errors only the channel.
	Hard bool
}

func (e *Error) Error() string {
	if e.ClassID != 0 || e.MethodID != 0 {
		return fmt.Sprintf("%s - %s (class %d, method %d)", e.Code, e.Text, e.ClassID, e.MethodID)
	}
	return fmt.Sprintf("%s - %s", e.Code, e.Text)
}

// ReplyText renders the text sent in the close frame, prefixed with the code name
// the way other brokers do.
func (e *Error) ReplyText() string {
	text := e.Code.String() + " - " + e.Text
	if len(text) > 255 {
		text = text[:255]
	}
	return text
}

// At returns a copy of e pointing at the given method, unless e already names one.
func (e *Error) At(classID, methodID uint16) *Error {
	if e.ClassID != 0 || e.MethodID != 0 {
		return e
	}
	cp := *e
	cp.ClassID = classID
	cp.MethodID = methodID
	return &cp
}

// Soft builds a channel-level error.
func Soft(code AmqpError, format string, a ...any) *Error {
	return &Error{Code: code, Text: fmt.Sprintf(format, a...)}
}

// Hard builds a connection-level error.
func Hard(code AmqpError, format string, a ...any) *Error {
	return &Error{Code: code, Text: fmt.Sprintf(format, a...), Hard: true}
}

// New picks the level from the reply code.
func New(code AmqpError, format string, a ...any) *Error {
	return &Error{Code: code, Text: fmt.Sprintf(format, a...), Hard: code.Hard()}
}

// As extracts a protocol error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
