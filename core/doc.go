// Package core provides the foundational domain types shared by every other
// package of the trainer. It defines:
//
//   - Characters and the Players who voice them
//   - Conversations (the per-player handle carrying prior exchanges)
//   - Utterances (one formatted response within a round)
//   - Records (the persisted form of a single backend response)
//   - The error taxonomy surfaced to front-ends
//
// Implementation concerns (backends, persistence, orchestration) live in
// their own packages and depend on core, never the other way round.
package core
