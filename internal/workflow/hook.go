package workflow

// Hook lets a caller observe node execution. Optional: the executor calls
// it only if registered, unused by default.
type Hook interface {
	BeforeNode(nodeID string, nodeType string)
	AfterNode(nodeID string, nodeType string, err error)
}
