// Package loom provides an actor runtime for declaratively-defined,
// reactive applications.
//
// Behavior is given as plain JSON (or YAML) documents: a sandboxed
// expression language (package 'expr'), state machine definitions
// (package 'machine'), and query descriptors embedded in actor
// contexts (package 'query').  Package 'runtime' ties those together
// with per-actor mailboxes (package 'mailbox') over a key-value store
// boundary (package 'storage').
//
// Command-line gear is in 'cmd'.
package loom
