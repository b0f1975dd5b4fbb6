// Package errors provides standardized error handling for mediacompose.
//
// # Classification
//
// Errors fall into three classes:
//
//   - Transient: connection loss, timeouts, temporary unavailability
//   - Invalid: structural mismatches (ErrUnsupported), missing context
//     (ErrBadParameter), malformed wire data
//   - Fatal: invalid or missing configuration
//
// ErrEndOfStream is deliberately outside the taxonomy: a drained port or a
// terminated scheduling cycle reports it as a normal terminal signal, and
// IsTransient never reports it as retryable.
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and the classified variants keep errors.Is / errors.As working through the chain:
//
//	if codec != media.CodecRaw {
//	    return errors.Unsupported("Compositor", "Configure", "codec %s is not raw", codec)
//	}
//
//	if err := client.Connect(ctx); err != nil {
//	    return errors.WrapTransient(err, "Client", "Connect", "establish connection")
//	}
//
// Callers test for the compositor taxonomy with IsUnsupported and IsEndOfStream,
// or with the standard errors.Is against the exported sentinels.
package errors
