// internal/status/constants.go
package status

// Health codes. Values are stable and exported as metrics.

// HealthUnknown is the boot state, before the first cycle completes.
const HealthUnknown uint16 = 0

// HealthOK means the last cycle completed without a bus failure.
const HealthOK uint16 = 1

// HealthError means the last cycle had at least one failed task.
const HealthError uint16 = 2

// MaxSecondsInError caps SecondsInError to one register.
const MaxSecondsInError = 65535

// CodeGeneric is reported for failures that carry no Modbus exception code.
const CodeGeneric uint16 = 1
