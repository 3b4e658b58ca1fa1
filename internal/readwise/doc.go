// Package readwise provides a client for the Readwise highlights API.
//
// The client converts validated highlights into the wire format expected by
// POST /api/v2/highlights/ and performs a single batched write per call.
// Authentication uses the Readwise access token in an
// "Authorization: Token <token>" header.
//
// Failures are returned as *Error values tagged with a Kind so callers can
// branch on the classification instead of on error strings:
//
//	resp, err := client.CreateHighlights(ctx, token, highlights)
//	var rwErr *readwise.Error
//	if errors.As(err, &rwErr) && rwErr.Kind == readwise.KindRateLimited {
//	    // surface to the agent, no retry here
//	}
//
// The client never retries and applies no timeout of its own.
package readwise
