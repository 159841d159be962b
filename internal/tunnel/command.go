package tunnel

// Command describes one invocation of the tunnel binary: the binary
// path, mode-selecting subcommand tokens, an optional --config flag and
// mode-specific trailing flags. Elevation is handled by the supervisor.
type Command struct {
	Binary     string
	PreArgs    []string // subcommand tokens, e.g. ["tunnel"]
	ConfigPath string   // emitted as --config <path> when set
	Args       []string // trailing flags, e.g. ["run", "--ha-connections", "4"]
}

// RunCommand is the common invocation: <binary> tunnel --config <path> run.
func RunCommand(binary, configPath string, extraArgs ...string) Command {
	return Command{
		Binary:     binary,
		PreArgs:    []string{"tunnel"},
		ConfigPath: configPath,
		Args:       append([]string{"run"}, extraArgs...),
	}
}

// Argv assembles the full command line.
func (c Command) Argv() []string {
	argv := make([]string, 0, 2+len(c.PreArgs)+len(c.Args)+2)
	argv = append(argv, c.Binary)
	argv = append(argv, c.PreArgs...)
	if c.ConfigPath != "" {
		argv = append(argv, "--config", c.ConfigPath)
	}
	argv = append(argv, c.Args...)
	return argv
}
