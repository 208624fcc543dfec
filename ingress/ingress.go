package ingress

const (
	_ int32 = iota
	Ready
	Running
	Closed
)

// Ingress is a local traffic source feeding relay workers.
type Ingress interface {
	Name() string
	Type() IngressType
	Run() error
	Close() <-chan struct{}
}

type IngressType string

const (
	TypePortForward IngressType = "PORTFORWARD"
)
