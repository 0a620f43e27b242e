package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/secret"
)

// urgency maps risk to the attention cue the voice front plays before
// speaking the prompt.
func urgency(risk permission.RiskLevel) string {
	switch {
	case risk >= permission.RiskCritical:
		return "urgent"
	case risk >= permission.RiskHigh:
		return "normal"
	default:
		return "gentle"
	}
}

// VoiceSink posts notifications to a local text-to-speech server. The API
// token comes from the secret provider; when the secret is unavailable the
// sink disables itself rather than failing requests.
type VoiceSink struct {
	endpoint string
	secrets  secret.Provider
	client   *http.Client

	once     sync.Once
	token    string
	disabled bool
}

// NewVoiceSink creates a sink speaking to the TTS server at endpoint.
func NewVoiceSink(endpoint string, secrets secret.Provider) *VoiceSink {
	return &VoiceSink{
		endpoint: endpoint,
		secrets:  secrets,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify speaks the text. Errors are returned for logging only; callers must
// never let them influence a decision outcome.
func (s *VoiceSink) Notify(ctx context.Context, text string, risk permission.RiskLevel) error {
	s.once.Do(func() {
		token, err := s.secrets.Secret(ctx, "tts-token")
		if err != nil {
			s.disabled = true
			return
		}
		s.token = token
	})
	if s.disabled {
		return fmt.Errorf("voice sink disabled: tts token unavailable")
	}
	payload, err := json.Marshal(map[string]string{
		"text":    text,
		"urgency": urgency(risk),
	})
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/speak", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+s.token)
	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		return fmt.Errorf("tts server returned %s", response.Status)
	}
	return nil
}

var _ Sink = (*VoiceSink)(nil)
