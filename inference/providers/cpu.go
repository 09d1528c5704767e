// Package providers - CPU based execution provider.
package providers

const (
	// CPUProviderBackend runs every node on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)
