// Package mainloop implements a portable single-consumer reactor for
// embedded-style runtimes: timers kept in expiry order, idle callbacks run
// fairly across iterations, generic pollable sources, and an
// interrupt-to-mainloop handoff queue that moves work from (simulated) ISR
// context into the loop goroutine.
//
// One loop iteration runs due timers, then idlers (re-polling timers after
// each idler so chained idlers cannot starve them), then due timers again,
// prepares sources, blocks until the soonest timer or source deadline, and
// finally checks and dispatches sources. Registration and deletion are safe
// from any goroutine and from within callbacks; deletion during traversal is
// deferred via soft-delete flags and a steal/process/merge protocol, so a
// callback may delete itself or a sibling mid-pass.
//
// # Quick Start
//
//	s, _ := mainloop.New()
//
//	s.TimeoutAdd(100*time.Millisecond, func() bool {
//	    fmt.Println("tick")
//	    return true // keep the timer armed
//	})
//
//	s.IdleAdd(func() bool {
//	    fmt.Println("idle")
//	    return false // run once
//	})
//
//	_ = s.Run() // blocks until Quit
//
// Two backends are provided. The default message backend models an
// RTOS-style receive-with-timeout wait and carries the interrupt handoff
// queue; the poll backend (unix only) blocks in poll(2) on a wake fd, the
// hosted deployment flavor.
package mainloop
