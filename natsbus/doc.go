// Package natsbus carries prompts between conclave nodes over NATS.
//
// A serve node exposes local responders with ServeResponder on
// SubjectRespond(id); other nodes reach them through a Responder, which
// satisfies core.Responder and can be wrapped in an agent.Handle like any
// local model. Failures travel back as PromptReply envelopes and keep their
// core.ErrorKind, so a remote timeout is still classified as a timeout by the
// dispatcher. Bus embeds a NATS server for single-host setups and tests.
package natsbus
