package gatekeeper

import (
	"context"
	"fmt"

	"github.com/viant/afs/url"

	"github.com/nazarick/gatekeeper/gateway"
	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/classifier"
	"github.com/nazarick/gatekeeper/service/dao"
	daofs "github.com/nazarick/gatekeeper/service/dao/fs"
	"github.com/nazarick/gatekeeper/service/dao/store"
	"github.com/nazarick/gatekeeper/service/engine"
	"github.com/nazarick/gatekeeper/service/ledger"
	"github.com/nazarick/gatekeeper/service/notify"
	"github.com/nazarick/gatekeeper/service/rulestore"
	"github.com/nazarick/gatekeeper/service/secret"
)

// Service assembles the permission gateway: classifier, rule store, decision
// ledger, orchestration engine and the protocol server.
type Service struct {
	config     *Config
	classifier *classifier.Service
	rules      *rulestore.Service
	ledger     *ledger.Service
	engine     *engine.Service
	gateway    *gateway.Server
	secrets    secret.Provider
	notifier   notify.Sink

	ruleDAO       dao.Service[string, permission.Rule]
	decisionDAO   dao.Service[string, permission.Decision]
	requestDAO    dao.Service[string, permission.ActionRequest]
	engineOptions []engine.Option
}

func ruleKey(r *permission.Rule) string         { return r.ID }
func decisionKey(d *permission.Decision) string { return d.ID }
func actionKey(r *permission.ActionRequest) string {
	return r.ID
}

// New creates a fully wired service. Without options everything runs
// in-memory on the default loopback address.
func New(options ...Option) (*Service, error) {
	ret := &Service{}
	for _, option := range options {
		option(ret)
	}
	if err := ret.ensureBaseSetup(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) ensureBaseSetup() error {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.classifier == nil {
		riskClassifier, err := classifier.New(s.config.Classifier)
		if err != nil {
			return err
		}
		s.classifier = riskClassifier
	}
	if err := s.ensureStores(); err != nil {
		return err
	}
	s.rules = rulestore.New(s.ruleDAO)
	s.ledger = ledger.New(s.decisionDAO)

	if s.secrets == nil && s.config.Voice.SecretURL != "" {
		s.secrets = secret.New(s.config.Voice.SecretURL, s.config.Voice.SecretKey)
	}
	if s.notifier == nil {
		if s.config.Voice.Endpoint != "" && s.secrets != nil {
			s.notifier = notify.NewVoiceSink(s.config.Voice.Endpoint, s.secrets)
		} else {
			s.notifier = notify.LogSink{}
		}
	}

	engineConfig, err := s.config.engineConfig()
	if err != nil {
		return err
	}
	engineOptions := append([]engine.Option{
		engine.WithConfig(engineConfig),
		engine.WithRequestDAO(s.requestDAO),
		engine.WithNotifier(s.notifier),
	}, s.engineOptions...)
	s.engine = engine.New(s.classifier, s.rules, s.ledger, engineOptions...)
	s.gateway = gateway.New(s.engine, s.config.Gateway.Addr)
	return nil
}

func (s *Service) ensureStores() error {
	baseURL := s.config.Store.BaseURL
	if s.ruleDAO == nil {
		if baseURL != "" {
			ruleDAO, err := daofs.New[string, permission.Rule](url.Join(baseURL, "rules"), ruleKey)
			if err != nil {
				return fmt.Errorf("failed to open rule store: %w", err)
			}
			s.ruleDAO = ruleDAO
		} else {
			s.ruleDAO = store.NewMemoryStore[string, permission.Rule](ruleKey)
		}
	}
	if s.decisionDAO == nil {
		if baseURL != "" {
			decisionDAO, err := daofs.New[string, permission.Decision](url.Join(baseURL, "decisions"), decisionKey)
			if err != nil {
				return fmt.Errorf("failed to open decision store: %w", err)
			}
			s.decisionDAO = decisionDAO
		} else {
			s.decisionDAO = store.NewMemoryStore[string, permission.Decision](decisionKey)
		}
	}
	if s.requestDAO == nil {
		if baseURL != "" {
			requestDAO, err := daofs.New[string, permission.ActionRequest](url.Join(baseURL, "requests"), actionKey)
			if err != nil {
				return fmt.Errorf("failed to open request store: %w", err)
			}
			s.requestDAO = requestDAO
		} else {
			s.requestDAO = store.NewMemoryStore[string, permission.ActionRequest](actionKey)
		}
	}
	return nil
}

// Start runs the crash-recovery sweep and brings the gateway up. Requests
// found without a decision are resolved as timed out before any new
// connection is accepted.
func (s *Service) Start(ctx context.Context) error {
	if err := s.engine.Recover(ctx); err != nil {
		return fmt.Errorf("recovery sweep failed: %w", err)
	}
	return s.gateway.Start(ctx)
}

// Shutdown stops the gateway and cancels outstanding timers.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.gateway.Shutdown(ctx)
	s.engine.Shutdown()
	return err
}

// Engine exposes the orchestration engine for embedding without the
// gateway (e.g. an in-process hook shim).
func (s *Service) Engine() *engine.Service { return s.engine }

// Gateway exposes the protocol server.
func (s *Service) Gateway() *gateway.Server { return s.gateway }
