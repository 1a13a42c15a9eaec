// Package model defines the provider-agnostic abstraction over the language
// model backend that voices the players.
//
// Core goals:
//   - A single synchronous call: system text + prior exchanges + new prompt -> text
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (Anthropic, OpenAI) implement the Model interface in sub-packages
// so the session and invoker remain decoupled from vendor SDKs.
package model
