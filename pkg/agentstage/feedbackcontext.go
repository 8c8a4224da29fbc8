package agentstage

import "context"

// FeedbackContext carries the per-task metadata the edit stage reads to
// decide whether to append feedback content to its task prompt and
// whether to skip persisting the conversation to the memory store. It
// rides the call's own context.Context: a value attached to one call is
// invisible to every other call and vanishes on every exit path without
// manual reset.
type FeedbackContext struct {
	SkipMemoryCapture bool
	Section           string
	Comment           string
}

type feedbackContextKey struct{}

// WithFeedbackContext attaches fc to ctx for the duration of the derived
// context's lifetime.
func WithFeedbackContext(ctx context.Context, fc FeedbackContext) context.Context {
	return context.WithValue(ctx, feedbackContextKey{}, fc)
}

// FeedbackFromContext retrieves the FeedbackContext attached by
// WithFeedbackContext, if any.
func FeedbackFromContext(ctx context.Context) (FeedbackContext, bool) {
	fc, ok := ctx.Value(feedbackContextKey{}).(FeedbackContext)
	return fc, ok
}
