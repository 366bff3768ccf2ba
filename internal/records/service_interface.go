package records

// ServiceInterface is what the HTTP handlers depend on. It carries the
// repository contract so handler tests can stub either layer.
type ServiceInterface interface {
	RepositoryInterface
}

var _ ServiceInterface = (*Service)(nil)
