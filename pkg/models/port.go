package models

// DefaultPort is the port used when a node or connection does not name one.
const DefaultPort = "main"

// MakePortID creates a port ID from node ID and port name.
func MakePortID(nodeID, portName string) string {
	return nodeID + ":" + portName
}
