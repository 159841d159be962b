package main

import "time"

// Flag structs decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

type ReadyFlags struct {
	Timeout time.Duration
	// ConfirmDown inverts the check: the daemon must NOT be ready.
	ConfirmDown bool
}

type ScenarioFlags struct {
	Timeout time.Duration
	// KeepDaemon leaves the daemon running after the scenario so a
	// follow-up command can reuse it.
	KeepDaemon bool
}

type LogsFlags struct {
	Timeout time.Duration
	// Rotation also drives traffic and checks the rotation contract.
	Rotation bool
	// Substring expected in the rotated file.
	Substring string
}

type OriginFlags struct {
	Addr string
}
