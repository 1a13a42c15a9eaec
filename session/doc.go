// Package session runs a GM Trainer session: a narration supplied by the GM
// and a party of LLM-backed players who respond to it one after another.
//
// A Session moves through three states:
//
//	Idle ──RunTurn──▶ InRound ──last player──▶ Idle (logs rotated)
//	                     │
//	                     └──fatal error──▶ Halted
//
// Within a round each player sees the previous round's utterances, the
// narration and every utterance already produced in the current round, in
// that order. When the last player has spoken the current round becomes the
// previous round in a single step.
//
// SetNarration is only accepted while Idle. A Halted session rejects further
// turns; the front-end reports the cause and stops.
package session
