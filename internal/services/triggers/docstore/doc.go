// Package docstore defines the document store boundary used by trigger handlers
// and the client write path.
//
// Documents live at slash-separated paths with an even number of segments
// ("users/u1", "following/u1/userFollowing/u2"); collections have an odd
// number. Every committed write produces a Change, the store's record of a
// document's before and after state, which the trigger pipeline consumes with
// at-least-once delivery.
package docstore
