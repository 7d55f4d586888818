package entities

// MoistureStatus is the irrigation-facing classification of a filtered value.
type MoistureStatus string

const (
	StatusDry       MoistureStatus = "DRY"
	StatusOK        MoistureStatus = "OK"
	StatusOverwater MoistureStatus = "OVERWATER"
)

// HealthFlag describes how far a sensor's stream can be trusted,
// independently of the moisture status.
type HealthFlag string

const (
	HealthOK    HealthFlag = "OK"
	HealthNoisy HealthFlag = "NOISY"
	HealthSpiky HealthFlag = "SPIKY"
	HealthStale HealthFlag = "STALE"
)

// HealthCategories lists the fleet summary buckets in reporting order.
var HealthCategories = []HealthFlag{HealthOK, HealthNoisy, HealthSpiky, HealthStale}

// HasFlag reports whether flags contains f.
func HasFlag(flags []HealthFlag, f HealthFlag) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}
