package constants

// Names shared by the binaries and the controller.
const (
	ControllerName = "snapshotrepository"
	FieldOwner     = "snaprepo-operator"

	LeaderElectionID = "snaprepo-operator.snaprepo.dc-tec.io"

	// Credential Secret keys for HTTP basic authentication.
	SecretKeyUsername = "username"
	SecretKeyPassword = "password"

	MetricsNamespace = "snaprepo"
)
