package bootloader

// Jumper performs the final handoff spec.md section 4.5 describes:
// disable interrupts, set the vector table base to the application
// image, load its initial stack pointer and reset vector from offset
// 0, and branch. It never returns on success; concrete bindings are
// necessarily target-specific assembly, so this package only defines
// the capability contract.
type Jumper interface {
	JumpToApplication() error
}

// Watchdog triggers a soft reset that preserves the node-ID scratch
// register. No package in this module calls it; pkg/ota.Handler takes
// a plain reboot callback instead.
type Watchdog interface {
	TriggerReset()
}
