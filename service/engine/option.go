package engine

import (
	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/dao"
	"github.com/nazarick/gatekeeper/service/messaging"
	"github.com/nazarick/gatekeeper/service/notify"
	"github.com/nazarick/gatekeeper/service/registry"
)

type Option func(*Service)

// WithConfig replaces the default timeout configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithRegistry supplies a session registry. Useful in tests that need to
// observe pending slots directly.
func WithRegistry(sessions *registry.Service) Option {
	return func(s *Service) { s.registry = sessions }
}

// WithRequestDAO makes submitted requests durable so that the recovery sweep
// can resolve orphans after a crash.
func WithRequestDAO(requests dao.Service[string, permission.ActionRequest]) Option {
	return func(s *Service) { s.requests = requests }
}

// WithQueue replaces the operator event queue.
func WithQueue(queue messaging.Queue[Event]) Option {
	return func(s *Service) { s.events = queue }
}

// WithNotifier attaches the voice/notification sink. Sink failures are
// logged and never affect decisions.
func WithNotifier(sink notify.Sink) Option {
	return func(s *Service) { s.notifier = sink }
}
