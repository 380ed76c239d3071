package main

import "time"

// GlobalFlags are persistent on the root command.
type GlobalFlags struct {
	ConfigPath string
	// InstallDir overrides the directory bundled modules are searched from.
	InstallDir string
	// Testing selects the [sdctl-testing] autostart profile.
	Testing  bool
	LogLevel string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	Listen      string
	Settle      time.Duration
	NoAutostart bool
	LockFile    string
}

type StatusFlags struct {
	JSON bool
}

type LogFlags struct {
	Bytes int64
}
