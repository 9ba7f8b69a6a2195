// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language models inside Conclave.
//
// Core goals:
//   - A single Generate call shape for every provider (drained with Collect)
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (agent.ModelResponder, the coordinator) remain
// decoupled from vendor SDKs. Provider errors carrying HTTP 429 wrap
// core.ErrRateLimited.
package model
