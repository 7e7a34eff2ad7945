package constants

// Defaults applied when a declaration leaves a connection or repository field unset.
const (
	DefaultProtocol       = "http"
	DefaultHost           = "localhost"
	DefaultPort           = 9200
	DefaultValidateTLS    = true
	DefaultTimeoutSeconds = 10

	DefaultRepositoryType = "fs"
	DefaultCompress       = true

	// MinPort and MaxPort bound the accepted port range (inclusive).
	MinPort = 1
	MaxPort = 65534
)

// Scheduler defaults.
const (
	DefaultWorkers  = 4
	DefaultSchedule = "*/5 * * * *"
)
