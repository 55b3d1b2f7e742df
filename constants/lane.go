package constants

// Lane identifies which scheduling lane a job runs on. Lanes share the job
// table but have independent worker limits, so a large batch cannot starve
// interactive single-file requests.
type Lane string

const (
	LaneSingle Lane = "single"
	LaneBatch  Lane = "batch-item"
)

// Lanes lists every lane in scheduling order.
var Lanes = []Lane{LaneSingle, LaneBatch}

// DefaultPriority returns the default job priority for a lane. Lower values
// are claimed first; single-file jobs outrank batch items.
func DefaultPriority(l Lane) int {
	if l == LaneBatch {
		return 20
	}
	return 10
}
