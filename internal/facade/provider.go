package facade

// Runtime is the cloud-runtime discriminant selecting which Provider
// variant the process builds at startup, per spec.md §4.1.
type Runtime string

const (
	RuntimeAWS   Runtime = "aws"
	RuntimeAzure Runtime = "azure"
	RuntimeLocal Runtime = "local"
)

// Valid reports whether r is a recognized runtime discriminant.
func (r Runtime) Valid() bool {
	switch r {
	case RuntimeAWS, RuntimeAzure, RuntimeLocal:
		return true
	default:
		return false
	}
}
