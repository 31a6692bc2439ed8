// Package followwire wires a follow.Controller's speed output into a
// scheduler.Scheduler's transport, the concrete form of the microphone ->
// onset -> follow -> scheduler data flow.
package followwire

import (
	"github.com/cbegin/midifollow-go/internal/follow"
	"github.com/cbegin/midifollow-go/internal/scheduler"
)

// Bind registers sched.SetSpeed as fc's speed-changed callback. Call
// before fc.Start.
func Bind(sched *scheduler.Scheduler, fc *follow.Controller) {
	fc.OnSpeedChanged(func(f float64) {
		sched.SetSpeed(f)
	})
}
