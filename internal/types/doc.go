// Package types holds the two wire protocols as closed sets of Go types.
package types

// Match protocol (session engine, "type" field, length-prefixed frames):
//
// Client -> Server
// HELLO:
//   identity: string
//   displayName: string (optional)
//
// INPUT:
//   seq: number // strictly increasing per connection; seq <= last is dropped
//   action: "LEFT" | "RIGHT" | "SOFT" | "HARD" | "CW" | "CCW" | "HOLD" | "CHOICE"
//   choice: 1 | 2 | 3 // only with CHOICE
//
// PING:
//   t: any // echoed back in PONG
//
// BYE: {}
//
// Server -> Client
// WELCOME:
//   role: "P1" | "P2" | ... | "SPEC_n"
//   seed: number
//   bagRule: "7bag"
//   rulesSummary: { mode, durationSec, maxPlayers, choices }
//   speedPlan: { mode, initialDropMs, minDropMs, intervalSec, stepMs, linesPerSpeedup }
//   isSpectator: boolean
//
// SNAPSHOT:
//   at, remainingMs, currentDropMs: number
//   players: [{ role, name, connected, board, active, hold, next, score, lines, level, blocksCleared }]
//
// SPEED_UPDATE: { newIntervalMs, reason, at }
// ROUND:        { round, result, choices, eliminated, reason }
// MATCH_END:    { reason: "forfeit" | "topout" | "timeup" | "elimination", results, winnerRole, winnerIdentity, winnerReason }
// SPECTATOR_KICKED: { reason }
// ERROR:        { code: "BadRequest" | "GameEnded" | "InvalidChoice", msg }
//
// Room control protocol (lobby, "kind" field, newline-delimited frames):
//
// create_room:    { identity, game, version }
// join_room, leave_room, player_ready, player_unready, propose_start:
//                 { identity, room_id }
// respond_start:  { identity, room_id, accept }
// subscribe_room: { identity, room_id } // connection then only receives room_update
// list_rooms:     {}
// game_finished:  { room_id, kickAll, reason, winnerRole, winnerIdentity, results, players }
//
// Every request gets one reply { ok, code, error, msg, room_id, room, rooms }.
// Subscribers receive { event: "room_update", room }.
