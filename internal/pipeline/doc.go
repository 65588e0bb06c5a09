// Package pipeline implements the option pipeline: an ordered list of
// independently togglable named steps applied to a single payload.
//
// Each enabled step receives the payload produced by the previous enabled
// step and its output is snapshotted into the Trace under the step label.
// Steps always run in the order they were declared, whatever the order of
// keys in the Options. A step failure aborts the run and no result is
// returned.
package pipeline
