package config

const (
	defaultStateDir         = "~/.local/share/tonearm"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultParallelWorkers  = 4
	defaultStabilityTimeout = 60
	defaultMinStableSeconds = 1
	defaultResyncInterval   = 300
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Settings: Settings{
			AllowInitialBulkEncode: true,
			ParallelWorkers:        defaultParallelWorkers,
			StabilityTimeout:       defaultStabilityTimeout,
			MinStableSeconds:       defaultMinStableSeconds,
			ResyncInterval:         defaultResyncInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
		},
	}
}
