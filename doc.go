// Package quizhub provides the server-side core of a live competitive quiz:
// a single-process hub that broadcasts a shared arithmetic question to every
// connected participant, accepts concurrent answer submissions, and
// atomically elects the first correct submitter as the round winner.
//
// # Overview
//
// quizhub concentrates the hard parts of a realtime quiz in one place: fair
// winner election under near-simultaneous submissions, a timed round
// lifecycle, ordered fan-out over a persistent connection abstraction, and
// late-joiner synchronization. Everything else - UI, auth, persistence - is
// deliberately outside the package.
//
// # Core Components
//
// The hub is composed of five cooperating pieces:
//
//   - Generator: produces arithmetic questions and validates raw answers
//   - RoundState: per-round submissions and the single-winner lock
//   - LifecycleMachine: the idle/active/locked/transitioning phase machine
//   - Hub: the single-writer orchestrator owning all mutable state
//   - Transport: the contract an adapter implements to move messages
//
// The Hub serializes every inbound event and timer callback under one
// exclusive lock, so "first correct answer" is well defined: it is the first
// correct submission the lock admits. Outbound sends are issued inside the
// critical section but queued by the transport, so the lock never waits on a
// slow client.
//
// # Usage Example
//
//	adapter := quizhub.NewWebSocketAdapter().
//	    WithAllowedOrigins("https://quiz.example.com")
//
//	hub := quizhub.NewHub(adapter).
//	    SetDefaultDifficulty(quizhub.Medium).
//	    SetWinnerDisplayDuration(3 * time.Second)
//	adapter.SetHub(hub)
//
//	if err := hub.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(adapter.ListenAndServe(":8080", "/ws"))
//
// # Round Flow
//
// A round begins when the Hub installs a fresh question and broadcasts
// new-question. Participants submit answers; the first correct one locks the
// round, triggers the winner-declared broadcast, and schedules the next
// round. Wrong answers and race losers get per-connection results; further
// submissions are rejected until rotation. A round with no winner never
// advances on its own - ForceNewQuestion exists as the administrative escape
// hatch.
//
// # Observability
//
// The Hub exposes metricz counters and gauges, tracez spans around event
// handling, hookz events for round starts, winner declarations and
// rejections, and zap logging for warnings. All timers and timestamps run
// through an injectable clockz.Clock, so tests drive rotation with a fake
// clock.
package quizhub
