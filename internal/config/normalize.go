// internal/config/normalize.go
package config

const (
	DefaultIntervalMs     = 1000
	DefaultTimeoutMs      = 1000
	DefaultConnectRetries = 3
	DefaultPriority       = "low"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"
)

// Normalize applies post-validation defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	for di := range cfg.Devices {
		d := &cfg.Devices[di]

		if d.IntervalMs <= 0 {
			d.IntervalMs = DefaultIntervalMs
		}
		if d.Transport.Mode == "" {
			d.Transport.Mode = "tcp"
		}
		if d.Transport.TimeoutMs <= 0 {
			d.Transport.TimeoutMs = DefaultTimeoutMs
		}
		if d.Transport.ConnectRetries == nil {
			n := uint64(DefaultConnectRetries)
			d.Transport.ConnectRetries = &n
		}
		if d.LogVerbosity == "" {
			d.LogVerbosity = "none"
		}

		for ri := range d.Ranges {
			r := &d.Ranges[ri]
			if r.Priority == "" {
				r.Priority = DefaultPriority
			}
			if r.Writable && r.WriteMode == "" {
				r.WriteMode = "multiple"
			}

			// Element addresses follow each other unless given.
			next := uint32(r.Address)
			for ei := range r.Elements {
				e := &r.Elements[ei]
				if e.Address == nil {
					a := uint16(next)
					e.Address = &a
				}
				next = uint32(*e.Address) + uint32(elementLength(*e))
			}
		}
	}
}
