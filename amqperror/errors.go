package amqpError

// AmqpError is an AMQP 0-9-1 reply code.
type AmqpError uint16

// Reply codes. 311 to 313 and 403 to 406 are channel exceptions, the rest
// close the connection.
const (
	ContentTooLarge AmqpError = 311
	NoRoute         AmqpError = 312 // basic.return for mandatory publishes
	NoConsumers     AmqpError = 313 // basic.return for immediate publishes

	ConnectionForced AmqpError = 320 // broker shutdown

	AccessRefused      AmqpError = 403
	NotFound           AmqpError = 404
	ResourceLocked     AmqpError = 405 // exclusive queue owned by another connection
	PreconditionFailed AmqpError = 406

	InternalError   AmqpError = 500
	FrameError      AmqpError = 501
	SyntaxError     AmqpError = 502
	CommandInvalid  AmqpError = 503
	ChannelError    AmqpError = 504
	UnexpectedFrame AmqpError = 505
	ResourceError   AmqpError = 506
	NotAllowed      AmqpError = 530
	NotImplemented  AmqpError = 540
)

// Code returns the reply code as sent on the wire.
func (e AmqpError) Code() uint16 {
	return uint16(e)
}

// Hard reports whether the code is a connection exception.
func (e AmqpError) Hard() bool {
	switch e {
	case ConnectionForced, InternalError, FrameError, SyntaxError, CommandInvalid,
		ChannelError, UnexpectedFrame, ResourceError, NotAllowed, NotImplemented:
		return true
	}
	return false
}

// String returns the protocol name of the code, e.g. NOT_FOUND.
func (e AmqpError) String() string {
	switch e {
	case ContentTooLarge:
		return "CONTENT_TOO_LARGE"
	case NoRoute:
		return "NO_ROUTE"
	case NoConsumers:
		return "NO_CONSUMERS"
	case ConnectionForced:
		return "CONNECTION_FORCED"
	case AccessRefused:
		return "ACCESS_REFUSED"
	case NotFound:
		return "NOT_FOUND"
	case ResourceLocked:
		return "RESOURCE_LOCKED"
	case PreconditionFailed:
		return "PRECONDITION_FAILED"
	case InternalError:
		return "INTERNAL_ERROR"
	case FrameError:
		return "FRAME_ERROR"
	case SyntaxError:
		return "SYNTAX_ERROR"
	case CommandInvalid:
		return "COMMAND_INVALID"
	case ChannelError:
		return "CHANNEL_ERROR"
	case UnexpectedFrame:
		return "UNEXPECTED_FRAME"
	case ResourceError:
		return "RESOURCE_ERROR"
	case NotAllowed:
		return "NOT_ALLOWED"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return "UNKNOWN_ERROR"
	}
}
