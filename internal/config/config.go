// internal/config/config.go
package config

type Config struct {
	Log     LogConfig      `yaml:"log"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Strict  bool           `yaml:"strict"`
	Devices []DeviceConfig `yaml:"devices"`
}

// ---- AMBIENT ----

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables /metrics
}

// ---- DEVICE ----

type DeviceConfig struct {
	ID           string          `yaml:"id"`
	Transport    TransportConfig `yaml:"transport"`
	UnitID       uint8           `yaml:"unit_id"`
	IntervalMs   int             `yaml:"interval_ms"`
	LogVerbosity string          `yaml:"log_verbosity"` // none | reads_and_writes | reads_and_writes_verbose
	Ranges       []RangeConfig   `yaml:"ranges"`
}

// ---- TRANSPORT ----

type TransportConfig struct {
	Mode      string `yaml:"mode"`     // tcp | rtu
	Endpoint  string `yaml:"endpoint"` // host:port or serial device
	TimeoutMs int    `yaml:"timeout_ms"`

	// rtu only
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"` // N | E | O

	ConnectRetries *uint64 `yaml:"connect_retries"`
}

// ---- GEOMETRY ----

type RangeConfig struct {
	Area      string          `yaml:"area"` // coils | discrete_inputs | holding_registers | input_registers
	Address   uint16          `yaml:"address"`
	Priority  string          `yaml:"priority"` // high | low
	Writable  bool            `yaml:"writable"`
	WriteMode string          `yaml:"write_mode"` // multiple | single
	Elements  []ElementConfig `yaml:"elements"`
}

type ElementConfig struct {
	Kind    string `yaml:"kind"`
	Channel string `yaml:"channel"`

	// Address defaults to the end of the previous element.
	Address *uint16 `yaml:"address"`

	// Length is only honoured by dummies.
	Length uint16 `yaml:"length"`

	ByteOrder  string `yaml:"byte_order"`
	WordOrder  string `yaml:"word_order"`
	Multiplier int    `yaml:"multiplier"`
}
