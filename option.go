package gatekeeper

import (
	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/classifier"
	"github.com/nazarick/gatekeeper/service/dao"
	"github.com/nazarick/gatekeeper/service/engine"
	"github.com/nazarick/gatekeeper/service/notify"
	"github.com/nazarick/gatekeeper/service/secret"
)

// Option customises the service wiring.
type Option func(s *Service)

// WithConfig sets the configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithClassifier replaces the risk classifier built from configuration.
func WithClassifier(riskClassifier *classifier.Service) Option {
	return func(s *Service) { s.classifier = riskClassifier }
}

// WithRuleDAO sets the rule persistence backend.
func WithRuleDAO(rules dao.Service[string, permission.Rule]) Option {
	return func(s *Service) { s.ruleDAO = rules }
}

// WithDecisionDAO sets the decision ledger persistence backend.
func WithDecisionDAO(decisions dao.Service[string, permission.Decision]) Option {
	return func(s *Service) { s.decisionDAO = decisions }
}

// WithRequestDAO sets the request persistence backend used by the startup
// recovery sweep.
func WithRequestDAO(requests dao.Service[string, permission.ActionRequest]) Option {
	return func(s *Service) { s.requestDAO = requests }
}

// WithNotifier sets the notification sink.
func WithNotifier(sink notify.Sink) Option {
	return func(s *Service) { s.notifier = sink }
}

// WithSecretProvider sets the credential provider consumed by optional
// collaborators such as the voice sink.
func WithSecretProvider(provider secret.Provider) Option {
	return func(s *Service) { s.secrets = provider }
}

// WithEngineOptions passes additional options to engine construction.
func WithEngineOptions(options ...engine.Option) Option {
	return func(s *Service) { s.engineOptions = append(s.engineOptions, options...) }
}
