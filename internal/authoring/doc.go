// Package authoring runs the rule-authoring conversation with a language
// model collaborator.
//
// A turn is stateless on the server: the caller sends the whole transcript,
// an optional new utterance and the context of the escalated message, and
// gets back either a clarifying reply or a validated rule proposal. During a
// turn the collaborator may call tools (rule search, regex testing), bounded
// by a round and token budget. Every call to a provider is rate limited and
// providers are tried in order until one answers.
//
// Confirming a proposal is a separate call handled by the audit service.
package authoring
