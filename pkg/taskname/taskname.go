package taskname

const (
	// License tasks
	LicenseExpire      = "license:expire"
	LicenseExpirySweep = "license:expire:sweep"
)
